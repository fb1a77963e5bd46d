package imageops

// Package imageops holds the pixel level operations that the face cascade and
// the recognition network need: conversion from raw decoded buffers,
// resizing, padded cropping, flipping, affine warping, and packing images
// into normalized network input tensors.
//
// The working image type is *image.NRGBA, which is what the imaging package
// produces for all of its operations.

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// FromPixels converts a decoded image buffer into an NRGBA image.
// nchan must be 1 (gray), 3 (RGB) or 4 (RGBA).
func FromPixels(nchan int, pixels []byte, width, height, stride int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("Invalid image size %v x %v", width, height)
	}
	if stride < width*nchan || len(pixels) < stride*(height-1)+width*nchan {
		return nil, fmt.Errorf("Image buffer too small for %v x %v x %v", width, height, nchan)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := pixels[y*stride : y*stride+width*nchan]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+width*4]
		switch nchan {
		case 1:
			for x := 0; x < width; x++ {
				v := src[x]
				out[x*4] = v
				out[x*4+1] = v
				out[x*4+2] = v
				out[x*4+3] = 255
			}
		case 3:
			for x := 0; x < width; x++ {
				out[x*4] = src[x*3]
				out[x*4+1] = src[x*3+1]
				out[x*4+2] = src[x*3+2]
				out[x*4+3] = 255
			}
		case 4:
			copy(out, src)
		default:
			return nil, fmt.Errorf("Unsupported number of image channels %v", nchan)
		}
	}
	return dst, nil
}

// FromImage returns img as an NRGBA image, converting only if necessary
func FromImage(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// ToRGB returns the pixels of img as packed 24-bit RGB
func ToRGB(img *image.NRGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	rgb := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride:]
		dst := rgb[y*w*3:]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return rgb
}

// Resize to exactly width x height.
// An empty source produces a black image of the requested size.
func Resize(img *image.NRGBA, width, height int) *image.NRGBA {
	if img.Rect.Empty() {
		return imaging.New(width, height, color.NRGBA{})
	}
	if img.Rect.Dx() == width && img.Rect.Dy() == height {
		return img
	}
	return imaging.Resize(img, width, height, imaging.Linear)
}

// FlipH mirrors the image horizontally
func FlipH(img *image.NRGBA) *image.NRGBA {
	return imaging.FlipH(img)
}

// CropPadded cuts r out of img. The output is always r.Dx() x r.Dy(), and
// the parts of r that fall outside of img are zero.
// If r has no area, the result is an empty image.
func CropPadded(img *image.NRGBA, r image.Rectangle) *image.NRGBA {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return &image.NRGBA{}
	}
	dst := imaging.New(w, h, color.NRGBA{})
	inter := r.Intersect(img.Bounds())
	if inter.Empty() {
		return dst
	}
	return imaging.Paste(dst, imaging.Crop(img, inter), inter.Min.Sub(r.Min))
}

// WarpAffine maps img through the 2x3 matrix m (source to destination) into
// a new image of size width x height, with bilinear sampling.
// Destination pixels that map outside of img are zero.
func WarpAffine(img *image.NRGBA, m [6]float64, width, height int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	s2d := f64.Aff3{m[0], m[1], m[2], m[3], m[4], m[5]}
	draw.BiLinear.Transform(dst, s2d, img, img.Bounds(), draw.Src, nil)
	return dst
}
