// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package imagedir

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/compute/dtypes"
	"github.com/pkg/errors"
)

// example refers to one image of the Layout: its class and its file index
// within the class.
type example struct {
	classIdx, fileIdx int
}

// Dataset implements train.Dataset over a scanned Layout, so it can be used by
// a train.Loop to train/evaluate. It yields fixed-size batches of images
// (shaped `[batch_size, height, width, 3]`) and their class labels (shaped
// `[batch_size, 1]`).
//
// Only full batches are yielded: a trailing partial batch ends the epoch.
type Dataset struct {
	name   string
	layout *Layout

	// Image transformation.
	width, height int
	angleStdDev   float64
	flipRandomly  bool
	rng           *rand.Rand
	dtype         dtypes.DType
	labelsDType   dtypes.DType
	toTensor      *timage.ToTensorConfig

	batchSize int
	infinite  bool

	// mu protects position, selection and shuffle.
	mu        sync.Mutex
	position  int
	selection []example
	shuffle   *rand.Rand
}

var (
	// Assert Dataset implements train.Dataset.
	_ train.Dataset = &Dataset{}
)

// New creates a Dataset that yields batches of batchSize images from the given
// layout. By default it iterates sequentially over the images, once (one
// epoch), without resizing and with images converted to Float32.
//
// Configure it with the WithImageSize, WithShuffle, Infinite, WithAugmentation,
// WithDType and WithLabelsDType chained calls.
func New(name string, layout *Layout, batchSize int) *Dataset {
	ds := &Dataset{
		name:        name,
		layout:      layout,
		batchSize:   batchSize,
		rng:         rand.New(rand.NewSource(time.Now().UTC().UnixNano())),
		dtype:       dtypes.Float32,
		labelsDType: dtypes.Int32,
	}
	ds.toTensor = timage.ToTensor(ds.dtype)
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// WithImageSize configures the dataset to resize every image to the given
// width and height, preserving the aspect ratio and padding with black.
//
// It returns the updated dataset, so configuration calls can be cascaded.
func (ds *Dataset) WithImageSize(width, height int) *Dataset {
	ds.width, ds.height = width, height
	return ds
}

// WithShuffle configures the dataset to shuffle the order of the images using
// the given seed. The same seed always produces the same sequence of batches,
// with a fresh shuffle drawn from the same stream at the start of every epoch.
//
// It returns the updated dataset, so configuration calls can be cascaded.
func (ds *Dataset) WithShuffle(seed int64) *Dataset {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.shuffle = rand.New(rand.NewSource(seed))
	ds.selection = nil
	ds.position = 0
	return ds
}

// Infinite configures the dataset to loop forever, never returning io.EOF.
// Typically used for training with `train.Loop.RunSteps()`. Set it to false
// for evaluation datasets, or if training with `train.Loop.RunEpochs()`.
//
// It returns the updated dataset, so configuration calls can be cascaded.
func (ds *Dataset) Infinite(infinite bool) *Dataset {
	ds.infinite = infinite
	return ds
}

// WithAugmentation configures random image augmentation: rotation by an angle
// sampled with the given standard deviation (disabled if 0) and random
// horizontal flipping. It serves as a type of regularization, and should be
// used on training feeds only.
//
// It returns the updated dataset, so configuration calls can be cascaded.
func (ds *Dataset) WithAugmentation(angleStdDev float64, flipRandomly bool) *Dataset {
	ds.angleStdDev = angleStdDev
	ds.flipRandomly = flipRandomly
	return ds
}

// WithDType configures the dtype of the yielded image tensors. Default is
// Float32, with values scaled from 0.0 to 1.0.
//
// It returns the updated dataset, so configuration calls can be cascaded.
func (ds *Dataset) WithDType(dtype dtypes.DType) *Dataset {
	ds.dtype = dtype
	ds.toTensor = timage.ToTensor(dtype)
	return ds
}

// WithLabelsDType configures the dtype of the yielded labels tensor. Default
// is Int32. Binary classification losses usually take the labels in the same
// dtype as the model, see classifier.CreateDatasets.
//
// It returns the updated dataset, so configuration calls can be cascaded.
func (ds *Dataset) WithLabelsDType(dtype dtypes.DType) *Dataset {
	ds.labelsDType = dtype
	return ds
}

// yieldExamples selects the examples of the next batch. It only returns the
// selection; the actual loading/transformation of the images happens in
// YieldImages.
func (ds *Dataset) yieldExamples() (batch []example, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.selection == nil {
		ds.resetLocked()
	}
	total := len(ds.selection)
	if total == 0 {
		return nil, errors.Errorf("dataset %q has no images under %q", ds.name, ds.layout.Root)
	}

	batch = make([]example, 0, ds.batchSize)
	for ii := 0; ii < ds.batchSize; ii++ {
		if ds.infinite {
			if ds.shuffle != nil {
				// Sample with replacement.
				batch = append(batch, ds.selection[ds.shuffle.Intn(total)])
			} else {
				batch = append(batch, ds.selection[ds.position])
				ds.position = (ds.position + 1) % total
			}
			continue
		}
		if ds.position >= total {
			return nil, io.EOF
		}
		batch = append(batch, ds.selection[ds.position])
		ds.position++
	}
	return batch, nil
}

// YieldImages yields the next batch of images along with their labels and file
// paths. These are the raw (decoded, resized, augmented) images that can be
// used for displaying. See Yield for the tensor version used in training.
func (ds *Dataset) YieldImages() (batchImages []image.Image, labels []int, paths []string, err error) {
	batch, err := ds.yieldExamples()
	if err != nil {
		return
	}
	batchImages = make([]image.Image, 0, len(batch))
	labels = make([]int, 0, len(batch))
	paths = make([]string, 0, len(batch))
	for _, ex := range batch {
		imgPath := ds.layout.ImagePath(ex.classIdx, ex.fileIdx)
		img, imgErr := loadImage(imgPath)
		if imgErr != nil {
			err = errors.Wrapf(imgErr, "while reading %q image of class %q",
				imgPath, ds.layout.Classes[ex.classIdx])
			return
		}
		img = ds.Augment(img)
		if ds.width > 0 && ds.height > 0 {
			img = ResizeWithPadding(img, ds.width, ds.height)
		}
		batchImages = append(batchImages, img)
		labels = append(labels, ex.classIdx)
		paths = append(paths, imgPath)
	}
	return
}

// Augment image according to the augmentation configuration of the Dataset.
func (ds *Dataset) Augment(img image.Image) image.Image {
	if ds.angleStdDev > 0 {
		img = imaging.Rotate(img, ds.rng.NormFloat64()*ds.angleStdDev, color.RGBA{R: 0, G: 0, B: 0, A: 255})
	}
	if ds.flipRandomly && ds.rng.Intn(2) == 1 {
		img = imaging.FlipH(img)
	}
	return img
}

// Yield implements train.Dataset. It returns:
//
//   - spec: a pointer to the Dataset itself.
//   - inputs: one tensor with the images batch, shaped
//     `[batch_size, height, width, 3]`.
//   - labels: one tensor with the class indices, shaped `[batch_size, 1]`,
//     the same rank the model logits have.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec = ds
	batchImages, labelsAsInts, _, err := ds.YieldImages()
	if err != nil {
		return
	}
	labelsAsColumns := make([][]int, len(labelsAsInts))
	for ii, label := range labelsAsInts {
		labelsAsColumns[ii] = []int{label}
	}
	inputs = []*tensors.Tensor{ds.toTensor.Batch(batchImages)}
	labels = []*tensors.Tensor{tensors.FromAnyValue(shapes.CastAsDType(labelsAsColumns, ds.labelsDType))}
	return
}

// Reset restarts the Dataset from the beginning. Can be called after io.EOF is
// reached, for instance when running another evaluation on a test Dataset. If
// shuffling, it redraws the order of the images from the seeded stream.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.resetLocked()
}

func (ds *Dataset) resetLocked() {
	ds.position = 0
	if ds.selection == nil {
		ds.selection = make([]example, 0, ds.layout.NumExamples())
		for classIdx := range ds.layout.Classes {
			for fileIdx := 0; fileIdx < ds.layout.Counts[classIdx]; fileIdx++ {
				ds.selection = append(ds.selection, example{classIdx, fileIdx})
			}
		}
	}
	if ds.shuffle == nil || ds.infinite {
		return
	}
	ds.shuffle.Shuffle(len(ds.selection), func(i, j int) {
		ds.selection[i], ds.selection[j] = ds.selection[j], ds.selection[i]
	})
}

func loadImage(imagePath string) (image.Image, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	return img, err
}

// ResizeWithPadding resizes img to width x height without distorting the
// scale: the image is scaled to fit and pasted centered on a black background.
func ResizeWithPadding(img image.Image, width, height int) image.Image {
	imgSize := img.Bounds().Size()
	wRatio := float64(width) / float64(imgSize.X)
	hRatio := float64(height) / float64(imgSize.Y)

	adjustedWidth, adjustedHeight := width, height
	if wRatio < hRatio {
		adjustedHeight = int(wRatio * float64(imgSize.Y))
	} else if hRatio < wRatio {
		adjustedWidth = int(hRatio * float64(imgSize.X))
	}
	img = imaging.Resize(img, adjustedWidth, adjustedHeight, imaging.Lanczos)
	if adjustedWidth != width || adjustedHeight != height {
		bgImg := image.NewRGBA(image.Rect(0, 0, width, height))
		img = imaging.PasteCenter(bgImg, img)
	}
	return img
}
