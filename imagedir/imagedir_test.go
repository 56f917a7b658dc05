// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package imagedir

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path"
	"testing"

	"github.com/gomlx/compute/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestLayout writes small PNG files under a temporary directory, one
// sub-directory per class, and returns the root.
func createTestLayout(t *testing.T, classCounts map[string]int) string {
	root := t.TempDir()
	for class, count := range classCounts {
		classDir := path.Join(root, class)
		require.NoError(t, os.Mkdir(classDir, 0755))
		for ii := 0; ii < count; ii++ {
			img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
			for y := 0; y < 8; y++ {
				for x := 0; x < 8; x++ {
					img.Set(x, y, color.NRGBA{R: uint8(ii), G: uint8(x), B: uint8(y), A: 255})
				}
			}
			f, err := os.Create(path.Join(classDir, fmt.Sprintf("img_%03d.png", ii)))
			require.NoError(t, err)
			require.NoError(t, png.Encode(f, img))
			require.NoError(t, f.Close())
		}
	}
	return root
}

func TestScan(t *testing.T) {
	root := createTestLayout(t, map[string]int{"cats": 7, "dogs": 5})
	// Non-image files must not be counted.
	require.NoError(t, os.WriteFile(path.Join(root, "cats", "notes.txt"), []byte("x"), 0644))

	layout, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"cats", "dogs"}, layout.Classes)
	assert.Equal(t, []int{7, 5}, layout.Counts)
	assert.Equal(t, 12, layout.NumExamples())
	assert.Equal(t, 2, layout.NumClasses())
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := Scan(path.Join(t.TempDir(), "nowhere"))
	require.Error(t, err)
}

// collectEpoch drains one epoch of the dataset and returns the concatenated
// paths of all yielded batches.
func collectEpoch(t *testing.T, ds *Dataset) []string {
	var all []string
	for {
		_, labels, paths, err := ds.YieldImages()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Len(t, labels, len(paths))
		all = append(all, paths...)
	}
	return all
}

func TestShuffleIsDeterministic(t *testing.T) {
	root := createTestLayout(t, map[string]int{"a": 16, "b": 16})
	layout, err := Scan(root)
	require.NoError(t, err)

	const seed = 42
	ds1 := New("run1", layout, 8).WithShuffle(seed)
	ds2 := New("run2", layout, 8).WithShuffle(seed)

	// Same seed, same order, including across epochs.
	for epoch := 0; epoch < 2; epoch++ {
		epoch1 := collectEpoch(t, ds1)
		epoch2 := collectEpoch(t, ds2)
		require.Len(t, epoch1, 32)
		assert.Equal(t, epoch1, epoch2, "same seed must give the same batch order")
		ds1.Reset()
		ds2.Reset()
	}

	// A different seed gives a different order.
	ds3 := New("run3", layout, 8).WithShuffle(seed + 1)
	assert.NotEqual(t, collectEpoch(t, ds1), collectEpoch(t, ds3))
}

func TestOnlyFullBatchesAreYielded(t *testing.T) {
	root := createTestLayout(t, map[string]int{"a": 16, "b": 16})
	layout, err := Scan(root)
	require.NoError(t, err)

	// 32 images with batches of 16: exactly 2 batches per epoch.
	ds := New("batches", layout, 16)
	for epoch := 0; epoch < 2; epoch++ {
		numBatches := 0
		for {
			_, inputs, labels, err := ds.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			require.Len(t, inputs, 1)
			require.Len(t, labels, 1)
			assert.Equal(t, []int{16, 8, 8, 3}, inputs[0].Shape().Dimensions)
			assert.Equal(t, []int{16, 1}, labels[0].Shape().Dimensions)
			numBatches++
		}
		assert.Equal(t, 2, numBatches)
		ds.Reset()
	}

	// A trailing partial batch is dropped.
	require.NoError(t, os.WriteFile(path.Join(root, "a", "extra.png"), encodePNG(t), 0644))
	layout, err = Scan(root)
	require.NoError(t, err)
	require.Equal(t, 33, layout.NumExamples())
	ds = New("partial", layout, 16)
	numBatches := 0
	for {
		_, _, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		numBatches++
	}
	assert.Equal(t, 2, numBatches)
}

func encodePNG(t *testing.T) []byte {
	var buf writerBuffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 8, 8))))
	return buf.data
}

type writerBuffer struct{ data []byte }

func (w *writerBuffer) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func TestYieldDTypes(t *testing.T) {
	root := createTestLayout(t, map[string]int{"a": 4, "b": 4})
	layout, err := Scan(root)
	require.NoError(t, err)

	ds := New("dtypes", layout, 4).
		WithImageSize(16, 16).
		WithDType(dtypes.Float64).
		WithLabelsDType(dtypes.Float64)
	_, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float64, inputs[0].DType())
	assert.Equal(t, []int{4, 16, 16, 3}, inputs[0].Shape().Dimensions)
	assert.Equal(t, dtypes.Float64, labels[0].DType())
	assert.Equal(t, []int{4, 1}, labels[0].Shape().Dimensions)

	ds.Reset()
	labelValues := make(map[float64]bool)
	for {
		_, _, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for _, row := range labels[0].Value().([][]float64) {
			labelValues[row[0]] = true
		}
	}
	assert.Equal(t, map[float64]bool{0: true, 1: true}, labelValues)
}

func TestInfinite(t *testing.T) {
	root := createTestLayout(t, map[string]int{"a": 4})
	layout, err := Scan(root)
	require.NoError(t, err)

	ds := New("infinite", layout, 4).Infinite(true).WithShuffle(17)
	for ii := 0; ii < 5; ii++ {
		_, inputs, _, err := ds.Yield()
		require.NoError(t, err)
		require.Len(t, inputs, 1)
	}
}
