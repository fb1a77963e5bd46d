package imageops

import (
	"bytes"
	"fmt"
	"image"
	"os"

	"github.com/bmharper/cimg/v2"
	"github.com/disintegration/imaging"
)

// Decode decodes a compressed image. JPEG goes through libjpeg-turbo, and
// anything else (eg PNG) through the image package.
func Decode(data []byte) (*image.NRGBA, error) {
	if img, err := cimg.Decompress(data); err == nil {
		return FromPixels(img.NChan(), img.Pixels, img.Width, img.Height, img.Stride)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("Unrecognized image format: %w", err)
	}
	return FromImage(img), nil
}

func ReadFile(filename string) (*image.NRGBA, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("Error decoding %v: %w", filename, err)
	}
	return img, nil
}

// EncodeJPEG compresses img, dropping alpha
func EncodeJPEG(img *image.NRGBA, quality int) ([]byte, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	rgb := cimg.WrapImage(w, h, cimg.PixelFormatRGB, ToRGB(img))
	return cimg.Compress(rgb, cimg.MakeCompressParams(cimg.Sampling444, quality, 0))
}

func WriteJPEG(img *image.NRGBA, filename string, quality int) error {
	jpg, err := EncodeJPEG(img, quality)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, jpg, 0644)
}
