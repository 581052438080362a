package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsawler/go-dsne/vision/dataset"
	"github.com/tsawler/go-dsne/vision/storage"
)

// writeFolder writes perClass solid grey PNGs for each class.
func writeFolder(t *testing.T, classes []string, perClass int) string {
	t.Helper()
	root := t.TempDir()
	for ci, className := range classes {
		dir := filepath.Join(root, className)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := 0; i < perClass; i++ {
			shade := uint8(50*ci + i)
			img := image.NewNRGBA(image.Rect(0, 0, 5, 5))
			for y := 0; y < 5; y++ {
				for x := 0; x < 5; x++ {
					img.SetNRGBA(x, y, color.NRGBA{R: shade, G: shade, B: shade, A: 255})
				}
			}
			f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d.png", i)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
	}
	return root
}

func TestRunPack(t *testing.T) {
	in := writeFolder(t, []string{"zero", "one"}, 3)
	out := t.TempDir()

	for _, tc := range []struct {
		name  string
		args  []string
		store bool
		want  float32
	}{
		{"Uint8Archive", []string{"-dtype", "uint8"}, false, 52},
		{"Float32Store", []string{"-dtype", "float32", "-store"}, true, 52.0 / 255.0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(out, tc.name)
			args := append([]string{"-in", in, "-out", path, "-size", "4", "-channels", "1", "-workers", "2"}, tc.args...)
			require.NoError(t, runPack(args))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, tc.store, info.IsDir())

			d, err := storage.LoadDomain(path, "", "")
			require.NoError(t, err)
			assert.Equal(t, []int32{0, 0, 0, 1, 1, 1}, d.Labels)
			c, h, w := d.ImageShape()
			assert.Equal(t, []int{1, 4, 4}, []int{c, h, w})
			// "one" sorts first, so label 0 holds shades 50..52
			assert.InDelta(t, tc.want, d.Images[2].At(0, 1, 1), 1e-3)
		})
	}
}

func TestRunPackErrors(t *testing.T) {
	err := runPack([]string{"-in", ""})
	assert.ErrorIs(t, err, dataset.ErrConfiguration)

	in := writeFolder(t, []string{"a"}, 1)
	err = runPack([]string{"-in", in, "-out", filepath.Join(t.TempDir(), "x"), "-dtype", "bfloat"})
	assert.Error(t, err)

	err = runPack([]string{"-in", filepath.Join(t.TempDir(), "absent"), "-out", filepath.Join(t.TempDir(), "x")})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInspectAndWalk(t *testing.T) {
	in := writeFolder(t, []string{"a", "b"}, 4)
	archive := filepath.Join(t.TempDir(), "domain.dsne")
	require.NoError(t, runPack([]string{"-in", in, "-out", archive, "-size", "4", "-channels", "1", "-dtype", "uint8"}))

	cfgPath := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
source:
  path: %s
target:
  path: %s
  cap: 2
ratio: 1
seed: 7
transforms:
  - name: scale
    factor: 0.00392156862
  - name: resize
    height: 6
    width: 6
loader:
  batch_size: 5
  seed: 3
log_level: error
`, archive, archive)), 0o644))

	_, pd, err := buildFromConfig(cfgPath)
	require.NoError(t, err)
	intra, inter, _ := pd.Counts()
	// 8 source samples against 2 target samples per class
	assert.Equal(t, 16, intra)
	assert.Equal(t, 16, inter)

	require.NoError(t, runInspect([]string{"-config", cfgPath}))
	require.NoError(t, runWalk([]string{"-config", cfgPath, "-epochs", "2"}))
}
