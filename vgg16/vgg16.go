// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

// Package vgg16 implements the VGG16 convolutional model, optionally loading
// the Keras pre-trained ImageNet weights, to be used for transfer learning or
// image classification.
//
// Call DownloadAndUnpackWeights before building a graph with PreTrained
// weights. Typical usage, for transfer learning:
//
//	embedding := vgg16.BuildGraph(ctx, images).
//		PreTrained(dataDir).
//		SetPooling(vgg16.MaxPooling).
//		Trainable(false).
//		Done()
//
// The implementation follows the Keras definition in
// https://github.com/keras-team/keras/blob/master/keras/applications/vgg16.py
package vgg16

import (
	"fmt"
	"path"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
)

const (
	// MinimumImageSize is the smallest spatial dimension accepted: the 5
	// pooling layers each halve the image, so anything smaller vanishes.
	MinimumImageSize = 32

	// ClassificationImageSize is the image size the classification top was
	// trained with.
	ClassificationImageSize = 224

	// EmbeddingSize is the number of channels of the last convolutional
	// feature map, and hence the embedding size after pooling.
	EmbeddingSize = 512

	// NumClasses of the ImageNet classification top.
	NumClasses = 1000
)

// Pooling types, applied to the last convolutional feature map when not using
// the classification top. See Config.SetPooling.
type Pooling int

const (
	// NoPooling leaves the last feature map as is, shaped
	// `[batch, height/32, width/32, 512]`.
	NoPooling Pooling = iota

	// MaxPooling takes the max over the spatial axes, yielding a
	// `[batch, 512]` embedding.
	MaxPooling

	// MeanPooling takes the mean over the spatial axes, yielding a
	// `[batch, 512]` embedding.
	MeanPooling
)

// blockFilters lists the number of output filters of each convolution, per
// block. Layer names follow Keras: `block1_conv1` .. `block5_conv3`.
var blockFilters = [5][]int{
	{64, 64},
	{128, 128},
	{256, 256, 256},
	{512, 512, 512},
	{512, 512, 512},
}

// Config for building a VGG16 model graph. Create it with BuildGraph, adjust
// with the configuration methods and then call Done to get the output Node.
type Config struct {
	ctx               *context.Context
	image             *Node
	preTrainedDir     string
	trainable         bool
	pooling           Pooling
	classificationTop bool
	channelsConfig    timage.ChannelsAxisConfig
}

// BuildGraph builds the VGG16 graph for the batch of images. The images must
// be rank-4, with 3 channels, values scaled from 0 to 255 and preprocessed
// with PreprocessImage.
//
// The variables are created (or reused) in the "vgg16" scope under ctx, so the
// same model can be applied to more than one input. To instantiate more than
// one model with different weights, use the context in different scopes.
//
// It returns a Config object that can be further configured. Once done, call
// Done and it returns the output of the model.
func BuildGraph(ctx *context.Context, image *Node) *Config {
	return &Config{
		ctx:            ctx,
		image:          image,
		trainable:      true,
		pooling:        NoPooling,
		channelsConfig: timage.ChannelsLast,
	}
}

// PreTrained configures the model to load the pre-trained ImageNet weights
// from baseDir, where DownloadAndUnpackWeights (or
// DownloadAndUnpackWeightsTop, if using the classification top) unpacked them.
// An empty baseDir builds the same architecture with randomly initialized
// weights instead.
//
// It returns the modified configuration, so configuration calls can be
// cascaded.
func (c *Config) PreTrained(baseDir string) *Config {
	c.preTrainedDir = baseDir
	return c
}

// Trainable configures whether the model variables are updated during
// training. Set it to false to freeze the pre-trained weights, when transfer
// learning: only the layers appended on top of the model are trained then.
// Default is true.
//
// It returns the modified configuration, so configuration calls can be
// cascaded.
func (c *Config) Trainable(trainable bool) *Config {
	c.trainable = trainable
	return c
}

// SetPooling configures the pooling applied to the last convolutional feature
// map. It is ignored if using ClassificationTop. Default is NoPooling.
//
// It returns the modified configuration, so configuration calls can be
// cascaded.
func (c *Config) SetPooling(pooling Pooling) *Config {
	c.pooling = pooling
	return c
}

// ClassificationTop configures whether to include the original 1000-classes
// ImageNet classification layers. It returns their logits then, and SetPooling
// is ignored. Default is false, which returns the image embedding instead.
//
// It returns the modified configuration, so configuration calls can be
// cascaded.
func (c *Config) ClassificationTop(useTop bool) *Config {
	c.classificationTop = useTop
	return c
}

// ChannelsAxis configures where the channels axis of the images is. Defaults
// to timage.ChannelsLast.
//
// It returns the modified configuration, so configuration calls can be
// cascaded.
func (c *Config) ChannelsAxis(channelsConfig timage.ChannelsAxisConfig) *Config {
	c.channelsConfig = channelsConfig
	return c
}

// Done builds the configured graph and returns its output: the logits of the
// ImageNet classes if ClassificationTop(true), the pooled embedding or the
// last feature map otherwise.
func (c *Config) Done() *Node {
	ctx := c.ctx.In("vgg16")
	kw := &kerasWeights{}
	if c.preTrainedDir != "" {
		kw.baseDir = fsutil.MustReplaceTildeInDir(c.preTrainedDir)
		kw.unpackedDir = UnpackedWeightsNoTopName
		if c.classificationTop {
			kw.unpackedDir = UnpackedWeightsName
		}
	}

	x := c.image
	for blockIdx, filters := range blockFilters {
		for convIdx, numFilters := range filters {
			x = c.convLayer(ctx, kw, x, fmt.Sprintf("block%d_conv%d", blockIdx+1, convIdx+1), numFilters)
		}
		x = MaxPool(x).ChannelsAxis(c.channelsConfig).Window(2).Strides(2).NoPadding().Done()
	}

	if c.classificationTop {
		batchSize := x.Shape().Dimensions[0]
		x = Reshape(x, batchSize, -1)
		x = c.denseLayer(ctx, kw, x, "fc1", 4096)
		x = activations.Relu(x)
		x = c.denseLayer(ctx, kw, x, "fc2", 4096)
		x = activations.Relu(x)
		x = c.denseLayer(ctx, kw, x, "predictions", NumClasses)
	} else {
		spatialAxes := timage.GetSpatialAxes(x, c.channelsConfig)
		switch c.pooling {
		case MaxPooling:
			x = ReduceMax(x, spatialAxes...)
		case MeanPooling:
			x = ReduceMean(x, spatialAxes...)
		case NoPooling:
			// Feature map returned as is.
		}
	}

	if !c.trainable {
		ctx.EnumerateVariablesInScope(func(v *context.Variable) {
			v.SetTrainable(false)
		})
	}
	return x
}

// convLayer adds one 3x3 same-padding convolution with bias and ReLU, loading
// its pre-trained weights first, if configured.
func (c *Config) convLayer(ctx *context.Context, kw *kerasWeights, x *Node, layerName string, numFilters int) *Node {
	ctxInScope := kw.readLayerWeights(ctx.In(layerName), layerName)
	x = layers.Convolution(ctxInScope, x).CurrentScope().
		ChannelsAxis(c.channelsConfig).
		Filters(numFilters).
		KernelSize(3).
		PadSame().
		UseBias(true).
		Done()
	return activations.Relu(x)
}

// denseLayer adds one dense layer of the classification top, loading its
// pre-trained weights first, if configured. No activation is applied.
func (c *Config) denseLayer(ctx *context.Context, kw *kerasWeights, x *Node, layerName string, numUnits int) *Node {
	ctxInScope := kw.readLayerWeights(ctx.In(layerName), layerName)
	return layers.DenseWithBias(ctxInScope, x, numUnits)
}

// kerasWeights manages the retrieval of the Keras pre-trained weights.
//
// It maps the Keras layer names (`block1_conv1`, ..., `fc1`, `fc2`,
// `predictions`) to the unpacked tensor files and loads them into the
// variables the layers below will use.
type kerasWeights struct {
	baseDir, unpackedDir string
}

// enabled reports whether pre-trained weights were requested.
func (kw *kerasWeights) enabled() bool { return kw.baseDir != "" }

// loadTensorToVariable loads the tensor from the file named tensorFileName,
// under the unpacking directory, into a variable named variableName in the
// current context scope.
func (kw *kerasWeights) loadTensorToVariable(ctx *context.Context, tensorFileName, variableName string) {
	if ctx.InspectVariable(ctx.Scope(), variableName) != nil {
		// Assume it's already correctly loaded.
		return
	}
	tensorPath := path.Join(kw.baseDir, kw.unpackedDir, tensorFileName)
	local, err := tensors.Load(tensorPath)
	if err != nil {
		Panicf("vgg16.BuildGraph(): failed to read weights from %q: %v -- did you call "+
			"DownloadAndUnpackWeights first?", tensorPath, err)
	}
	_ = ctx.VariableWithValue(variableName, local)
}

// readLayerWeights loads the kernel and bias of the named layer into the
// given scope, and returns the scope marked for variable reuse. If pre-trained
// weights are disabled it returns the scope unchanged.
func (kw *kerasWeights) readLayerWeights(ctx *context.Context, layerName string) *context.Context {
	if !kw.enabled() {
		return ctx
	}
	kw.loadTensorToVariable(ctx, fmt.Sprintf("%s/%s_W_1:0", layerName, layerName), "weights")
	kw.loadTensorToVariable(ctx, fmt.Sprintf("%s/%s_b_1:0", layerName, layerName), "biases")
	return ctx.Reuse()
}
