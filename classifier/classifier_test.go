// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"io"
	"math"
	"strings"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/compute/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

func TestNumOutputUnits(t *testing.T) {
	assert.Equal(t, 1, NumOutputUnits(2))
	assert.Equal(t, 10, NumOutputUnits(10))
}

// testContext creates a context with default hyperparameters, randomly
// initialized weights (no downloads) and the given number of classes.
func testContext(numClasses int) *context.Context {
	ctx := CreateDefaultContext()
	ctx.SetParam(ParamVGG16PreTrained, false)
	ctx.SetParam(ParamNumClasses, numClasses)
	return ctx
}

// buildModelLogits runs ModelGraph on a zero batch of images and returns the
// logits shape dimensions.
func buildModelLogits(t *testing.T, ctx *context.Context, batchSize, numClasses int) []int {
	backend := graphtest.BuildTestBackend()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		images := Zeros(g, shapes.Make(dtypes.Float32, batchSize, 32, 32, 3))
		return ModelGraph(ctx, nil, []*Node{images})[0]
	})
	outputs := exec.MustExec()
	require.Len(t, outputs, 1)
	return outputs[0].Shape().Dimensions
}

func TestModelGraphLogits(t *testing.T) {
	if testing.Short() {
		t.Skip("TestModelGraphLogits disabled for go test --short because it requires a backend.")
	}

	// Binary classification: a single logit.
	dims := buildModelLogits(t, testContext(2), 3, 2)
	assert.Equal(t, []int{3, 1}, dims)

	// 10 classes: one logit per class.
	dims = buildModelLogits(t, testContext(10), 3, 10)
	assert.Equal(t, []int{3, 10}, dims)
}

func TestOnlyHeadIsTrainable(t *testing.T) {
	if testing.Short() {
		t.Skip("TestOnlyHeadIsTrainable disabled for go test --short because it requires a backend.")
	}
	ctx := testContext(2)
	_ = buildModelLogits(t, ctx, 1, 2)

	numTrainable := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable {
			return
		}
		numTrainable++
		assert.Truef(t, strings.HasPrefix(v.Scope(), "/model/fnn"),
			"with the VGG16 base frozen only the head should be trainable, got trainable variable %s::%s",
			v.Scope(), v.Name())
	})
	// The dense output layer: weights and biases.
	assert.Equal(t, 2, numTrainable)
}

func TestFineTuningUnfreezesBase(t *testing.T) {
	if testing.Short() {
		t.Skip("TestFineTuningUnfreezesBase disabled for go test --short because it requires a backend.")
	}
	ctx := testContext(2)
	ctx.SetParam(ParamVGG16FineTuning, true)
	_ = buildModelLogits(t, ctx, 1, 2)

	numTrainable := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if v.Trainable {
			numTrainable++
		}
	})
	// 13 convolutions plus the dense output layer, 2 variables each.
	assert.Equal(t, 28, numTrainable)
}

// fixedDataset yields the same batch of inputs/labels a fixed number of times
// per epoch.
type fixedDataset struct {
	numYields, count int
	images, labels   *tensors.Tensor
}

func (ds *fixedDataset) Name() string { return "fixed" }

func (ds *fixedDataset) Reset() { ds.count = 0 }

func (ds *fixedDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.count >= ds.numYields {
		return nil, nil, nil, io.EOF
	}
	ds.count++
	return ds, []*tensors.Tensor{ds.images}, []*tensors.Tensor{ds.labels}, nil
}

func TestEvaluate(t *testing.T) {
	if testing.Short() {
		t.Skip("TestEvaluate disabled for go test --short because it requires a backend.")
	}
	backend := graphtest.BuildTestBackend()

	// Binary classification.
	ds := &fixedDataset{
		numYields: 2,
		images:    tensors.FromShape(shapes.Make(dtypes.Float32, 4, 32, 32, 3)),
		labels:    tensors.FromValue([][]float32{{0}, {1}, {0}, {1}}),
	}
	trainer := NewTrainer(backend, testContext(2), 2)
	loss, accuracy, err := Evaluate(trainer, ds)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0), "loss=%f should be finite", loss)
	assert.GreaterOrEqual(t, loss, 0.0)
	assert.GreaterOrEqual(t, accuracy, 0.0)
	assert.LessOrEqual(t, accuracy, 1.0)

	// 10 classes, sparse labels.
	ds = &fixedDataset{
		numYields: 2,
		images:    tensors.FromShape(shapes.Make(dtypes.Float32, 4, 32, 32, 3)),
		labels:    tensors.FromValue([][]int32{{0}, {3}, {7}, {9}}),
	}
	trainer = NewTrainer(backend, testContext(10), 10)
	loss, accuracy, err = Evaluate(trainer, ds)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss) || math.IsInf(loss, 0), "loss=%f should be finite", loss)
	assert.GreaterOrEqual(t, loss, 0.0)
	assert.GreaterOrEqual(t, accuracy, 0.0)
	assert.LessOrEqual(t, accuracy, 1.0)
}
