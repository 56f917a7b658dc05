// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

// Package classifier trains image classifiers by transfer learning on top of
// the pre-trained VGG16 model: the VGG16 convolutional base computes an image
// embedding, with its weights optionally frozen, and a small dense network
// appended on top is trained to classify the embeddings.
//
// The images are read from directories with one sub-directory per class, see
// the imagedir package. Binary problems (2 classes) are trained with a single
// logit and binary cross-entropy, problems with more classes with one logit
// per class and sparse categorical cross-entropy.
package classifier

import (
	"path"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/compute/dtypes"
	"github.com/mpinho/vggtransfer/imagedir"
	"github.com/pkg/errors"
)

// Default directory names with the images of each split, under the dataset
// directory. Each one holds one sub-directory per class.
const (
	TrainDirName      = "train"
	ValidationDirName = "validation"
	TestDirName       = "test"
)

// Config of the data pipeline used for training and evaluation. Create it with
// NewConfigFromContext, which reads the hyperparameters from the context.
type Config struct {
	// DataDir is the base directory for the dataset, downloads and generated
	// files.
	DataDir string

	// TrainDir, ValidationDir and TestDir hold the images of each split, one
	// sub-directory per class.
	TrainDir, ValidationDir, TestDir string

	// NumClasses of the classification problem. 2 means a binary problem,
	// modeled with a single logit.
	NumClasses int

	// ImageSize in pixels images are resized to (squared), preserving the
	// aspect ratio with black padding.
	ImageSize int

	// DType of the images fed to the model.
	DType dtypes.DType

	// BatchSize for training. EvalBatchSize can be larger, it's more
	// efficient.
	BatchSize, EvalBatchSize int

	// Seed used to shuffle the training examples. The same seed always yields
	// the same order of batches.
	Seed int64

	// AngleStdDev is the standard deviation, in degrees, of the random
	// rotation used to augment training images. 0 disables it.
	AngleStdDev float64

	// FlipRandomly augments training images by flipping them horizontally
	// half of the time.
	FlipRandomly bool

	// UseParallelism makes the datasets load and preprocess images using
	// multiple goroutines, with BufferSize pre-generated batches.
	UseParallelism bool
	BufferSize     int
}

// NewConfigFromContext creates a Config from the hyperparameters set in the
// context, with the dataset rooted at dataDir.
func NewConfigFromContext(ctx *context.Context, dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		TrainDir:       path.Join(dataDir, TrainDirName),
		ValidationDir:  path.Join(dataDir, ValidationDirName),
		TestDir:        path.Join(dataDir, TestDirName),
		NumClasses:     context.GetParamOr(ctx, ParamNumClasses, 2),
		ImageSize:      context.GetParamOr(ctx, "image_size", 224),
		DType:          dtypes.Float32,
		BatchSize:      context.GetParamOr(ctx, "batch_size", 16),
		EvalBatchSize:  context.GetParamOr(ctx, "eval_batch_size", 32),
		Seed:           int64(context.GetParamOr(ctx, "data_seed", 42)),
		AngleStdDev:    context.GetParamOr(ctx, "augmentation_angle_stddev", 0.0),
		FlipRandomly:   context.GetParamOr(ctx, "augmentation_random_flips", false),
		UseParallelism: context.GetParamOr(ctx, "parallelism", true),
		BufferSize:     context.GetParamOr(ctx, "buffer_size", 32),
	}
}

// LabelsDType returns the dtype of the labels fed to the loss: binary labels
// must match the logits dtype, sparse categorical labels are integers.
func (config *Config) LabelsDType() dtypes.DType {
	if config.NumClasses == 2 {
		return config.DType
	}
	return dtypes.Int32
}

// newDataset creates an imagedir.Dataset for the directory with the common
// configuration applied.
func (config *Config) newDataset(name, dir string, batchSize int) (*imagedir.Dataset, error) {
	layout, err := imagedir.Scan(dir)
	if err != nil {
		return nil, err
	}
	if layout.NumClasses() != config.NumClasses {
		return nil, errors.Errorf("directory %q has %d classes, but the model is configured for %d ("+
			"hyperparameter %q)", dir, layout.NumClasses(), config.NumClasses, ParamNumClasses)
	}
	ds := imagedir.New(name, layout, batchSize).
		WithImageSize(config.ImageSize, config.ImageSize).
		WithDType(config.DType).
		WithLabelsDType(config.LabelsDType())
	return ds, nil
}

// parallelize wraps the dataset to generate batches in parallel, if configured.
func (config *Config) parallelize(ds train.Dataset) train.Dataset {
	if !config.UseParallelism {
		return ds
	}
	return datasets.CustomParallel(ds).Buffer(config.BufferSize).Start()
}

// CreateDatasets used for training and evaluation:
//
//   - trainDS: shuffled and augmented (if configured), yields one epoch of
//     full batches.
//   - trainEvalDS and validationEvalDS: no shuffling or augmentation, used to
//     evaluate on the train and validation splits.
func (config *Config) CreateDatasets() (trainDS, trainEvalDS, validationEvalDS train.Dataset, err error) {
	var ds *imagedir.Dataset
	ds, err = config.newDataset("train", config.TrainDir, config.BatchSize)
	if err != nil {
		return
	}
	ds.WithShuffle(config.Seed)
	if config.AngleStdDev > 0 || config.FlipRandomly {
		ds.WithAugmentation(config.AngleStdDev, config.FlipRandomly)
	}
	trainDS = config.parallelize(ds)

	ds, err = config.newDataset("train-eval", config.TrainDir, config.EvalBatchSize)
	if err != nil {
		return
	}
	trainEvalDS = config.parallelize(ds)

	ds, err = config.newDataset("validation", config.ValidationDir, config.EvalBatchSize)
	if err != nil {
		return
	}
	validationEvalDS = config.parallelize(ds)
	return
}

// CreateTestDataset creates the dataset over the held-out test split, used
// only for the final evaluation.
func (config *Config) CreateTestDataset() (train.Dataset, error) {
	ds, err := config.newDataset("test", config.TestDir, config.EvalBatchSize)
	if err != nil {
		return nil, err
	}
	return config.parallelize(ds), nil
}
