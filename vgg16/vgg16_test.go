// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package vgg16

import (
	"strings"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/compute/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// buildGraphOutputShape builds the graph with randomly initialized weights on a
// zero image batch and returns the output shape dimensions.
func buildGraphOutputShape(t *testing.T, ctx *context.Context, batchSize, size int, configure func(*Config) *Config) []int {
	backend := graphtest.BuildTestBackend()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		image := Zeros(g, shapes.Make(dtypes.Float32, batchSize, size, size, 3))
		return configure(BuildGraph(ctx, image)).Done()
	})
	outputs := exec.MustExec()
	require.Len(t, outputs, 1)
	return outputs[0].Shape().Dimensions
}

func TestBuildGraphShapes(t *testing.T) {
	if testing.Short() {
		t.Skip("TestBuildGraphShapes disabled for go test --short because it requires a backend.")
	}

	// Pooled embedding: [batch, 512].
	dims := buildGraphOutputShape(t, context.New(), 2, 64, func(c *Config) *Config {
		return c.SetPooling(MaxPooling)
	})
	assert.Equal(t, []int{2, EmbeddingSize}, dims)

	dims = buildGraphOutputShape(t, context.New(), 2, 64, func(c *Config) *Config {
		return c.SetPooling(MeanPooling)
	})
	assert.Equal(t, []int{2, EmbeddingSize}, dims)

	// NoPooling keeps the spatial axes, each reduced 32 times by the 5
	// max-pooling layers.
	dims = buildGraphOutputShape(t, context.New(), 2, 64, func(c *Config) *Config {
		return c
	})
	assert.Equal(t, []int{2, 2, 2, EmbeddingSize}, dims)

	// Classification top returns the ImageNet logits.
	dims = buildGraphOutputShape(t, context.New(), 2, MinimumImageSize, func(c *Config) *Config {
		return c.ClassificationTop(true)
	})
	assert.Equal(t, []int{2, NumClasses}, dims)
}

func TestTrainableFalseFreezesVariables(t *testing.T) {
	if testing.Short() {
		t.Skip("TestTrainableFalseFreezesVariables disabled for go test --short because it requires a backend.")
	}
	ctx := context.New()
	_ = buildGraphOutputShape(t, ctx, 1, MinimumImageSize, func(c *Config) *Config {
		return c.SetPooling(MaxPooling).Trainable(false)
	})

	numVars := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !strings.HasPrefix(v.Scope(), "/vgg16") {
			return
		}
		numVars++
		assert.Falsef(t, v.Trainable, "variable %s::%s should have been frozen", v.Scope(), v.Name())
	})
	// 13 convolutions, a kernel and a bias each.
	assert.Equal(t, 26, numVars)
}

func TestTrainableDefault(t *testing.T) {
	if testing.Short() {
		t.Skip("TestTrainableDefault disabled for go test --short because it requires a backend.")
	}
	ctx := context.New()
	_ = buildGraphOutputShape(t, ctx, 1, MinimumImageSize, func(c *Config) *Config {
		return c.SetPooling(MaxPooling)
	})
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !strings.HasPrefix(v.Scope(), "/vgg16") {
			return
		}
		assert.Truef(t, v.Trainable, "variable %s::%s should be trainable by default", v.Scope(), v.Name())
	})
}

func TestPreprocessImage(t *testing.T) {
	if testing.Short() {
		t.Skip("TestPreprocessImage disabled for go test --short because it requires a backend.")
	}
	backend := graphtest.BuildTestBackend()

	// A 4-channels image smaller than the minimum size, with values in 0..1:
	// the alpha channel must be dropped, the image scaled up and the values
	// rescaled to 0..255 (minus the channel means).
	exec := MustNewExec(backend, func(g *Graph) *Node {
		image := Ones(g, shapes.Make(dtypes.Float32, 1, 16, 16, 4))
		return PreprocessImage(image, 1.0, timage.ChannelsLast)
	})
	output := exec.MustExec()[0]
	assert.Equal(t, []int{1, MinimumImageSize, MinimumImageSize, 3}, output.Shape().Dimensions)

	values := output.Value().([][][][]float32)
	for channel, mean := range channelMeans {
		assert.InDelta(t, 255.0-mean, values[0][0][0][channel], 1e-3)
	}
}
