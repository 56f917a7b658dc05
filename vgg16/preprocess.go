// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package vgg16

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
)

// channelMeans are the ImageNet per-channel means the pre-trained weights were
// normalized with, in BGR order (the Keras "caffe" convention).
var channelMeans = []float32{103.939, 116.779, 123.68}

// PreprocessImage makes the images usable by the VGG16 model, the same way the
// pre-trained weights were produced:
//
//   - It removes the alpha channel, in case it is provided.
//   - The minimum image size accepted by VGG16 is 32x32. If any spatial size
//     is smaller than that, the image is resized accordingly, preserving the
//     aspect ratio.
//   - Values are rescaled from `0..maxValue` to `0..255`, channels are
//     reversed from RGB to BGR and the ImageNet channel means are subtracted.
//
// Input images must have a batch dimension (rank=4), be either 3 or 4
// channels, and their values must be scaled from 0 to maxValue.
func PreprocessImage(image *Node, maxValue float64, channelsConfig timage.ChannelsAxisConfig) *Node {
	if image.Rank() != 4 {
		return image
	}
	g := image.Graph()

	// Remove alpha-channel, if given.
	shape := image.Shape()
	channelsAxis := timage.GetChannelsAxis(image, channelsConfig)
	if shape.Dimensions[channelsAxis] == 4 {
		axesSpec := make([]SliceAxisSpec, image.Rank())
		for ii := range axesSpec {
			if ii == channelsAxis {
				axesSpec[ii] = AxisRange(0, 3)
			} else {
				axesSpec[ii] = AxisRange()
			}
		}
		image = Slice(image, axesSpec...)
	}

	// Scale up to the minimum size (32x32), if needed.
	spatialAxes := timage.GetSpatialAxes(image, channelsConfig)
	upScale := 1.0
	for _, axis := range spatialAxes {
		ratio := float64(MinimumImageSize) / float64(shape.Dimensions[axis])
		if ratio > upScale {
			upScale = ratio
		}
	}
	if upScale > 1.0 {
		newShape := image.Shape().Clone()
		for _, axis := range spatialAxes {
			newSize := int(math.Round(float64(shape.Dimensions[axis]) * upScale))
			if newSize < MinimumImageSize {
				newSize = MinimumImageSize
			}
			newShape.Dimensions[axis] = newSize
		}
		image = Interpolate(image, newShape.Dimensions...).Done()
	}

	// Rescale to 0..255, convert RGB to BGR and subtract the channel means.
	if maxValue > 0 && maxValue != 255.0 {
		image = MulScalar(image, 255.0/maxValue)
	}
	image = Reverse(image, channelsAxis)
	means := ConvertDType(Const(g, channelMeans), image.DType())
	meansDims := make([]int, image.Rank())
	for ii := range meansDims {
		meansDims[ii] = 1
	}
	meansDims[channelsAxis] = 3
	means = Reshape(means, meansDims...)
	return Sub(image, means)
}
