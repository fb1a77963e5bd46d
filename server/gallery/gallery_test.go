package gallery

import (
	"path/filepath"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Gallery {
	t.Helper()
	g, err := NewGallery(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "gallery.sqlite"))
	require.NoError(t, err)
	t.Cleanup(g.Close)
	return g
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0, 1, -2.5, 3.25e-7}
	require.Equal(t, v, decodeVector(encodeVector(v)))
	require.Len(t, encodeVector(v), 16)
}

func TestEnrollAndSearch(t *testing.T) {
	g := setup(t)

	alice1, err := g.Enroll("alice", []float32{1, 0, 0})
	require.NoError(t, err)
	alice2, err := g.Enroll(" alice ", []float32{0.9, 0.1, 0})
	require.NoError(t, err)
	require.Equal(t, alice1, alice2)
	bob, err := g.Enroll("bob", []float32{0, 1, 0})
	require.NoError(t, err)
	require.NotEqual(t, alice1, bob)

	matches, err := g.Search([]float32{0.95, 0.05, 0}, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "alice", matches[0].Name)
	require.Equal(t, alice1, matches[0].PersonID)
	require.Greater(t, matches[0].Similarity, matches[1].Similarity)
	require.Equal(t, "bob", matches[1].Name)

	matches, err = g.Search([]float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "bob", matches[0].Name)
	require.InDelta(t, 1.0, matches[0].Similarity, 1e-6)

	// Vectors of a different width are ignored
	matches, err = g.Search([]float32{1, 0}, 0)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestEnrollValidation(t *testing.T) {
	g := setup(t)
	_, err := g.Enroll("  ", []float32{1})
	require.ErrorIs(t, err, ErrEmptyName)
	_, err = g.Enroll("carol", nil)
	require.ErrorIs(t, err, ErrEmptyVector)
	_, err = g.Search(nil, 0)
	require.ErrorIs(t, err, ErrEmptyVector)
}

func TestListAndDelete(t *testing.T) {
	g := setup(t)
	people, err := g.List()
	require.NoError(t, err)
	require.Empty(t, people)

	bob, err := g.Enroll("bob", []float32{0, 1})
	require.NoError(t, err)
	_, err = g.Enroll("alice", []float32{1, 0})
	require.NoError(t, err)
	_, err = g.Enroll("bob", []float32{0.1, 1})
	require.NoError(t, err)

	people, err = g.List()
	require.NoError(t, err)
	require.Len(t, people, 2)
	require.Equal(t, "alice", people[0].Name)
	require.Equal(t, 1, people[0].NumFeatures)
	require.Equal(t, "bob", people[1].Name)
	require.Equal(t, 2, people[1].NumFeatures)

	found, err := g.Delete(bob)
	require.NoError(t, err)
	require.True(t, found)
	found, err = g.Delete(bob)
	require.NoError(t, err)
	require.False(t, found)

	matches, err := g.Search([]float32{0, 1}, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "alice", matches[0].Name)
}
