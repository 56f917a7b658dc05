// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/janpfeifer/must"
	"github.com/mpinho/vggtransfer/vgg16"
)

// Hyperparameters specific to the classifier model, set in the context. See
// CreateDefaultContext for the defaults.
const (
	// ParamNumClasses is the number of classes of the classification problem.
	ParamNumClasses = "num_classes"

	// ParamVGG16PreTrained selects whether to load the pre-trained ImageNet
	// weights into the VGG16 base. If false it is randomly initialized.
	ParamVGG16PreTrained = "vgg16_pretrained"

	// ParamVGG16FineTuning selects whether the VGG16 base weights are updated
	// during training. If false (the default) the base is frozen and only the
	// dense layers on top are trained.
	ParamVGG16FineTuning = "vgg16_finetuning"
)

// ModelPrep is executed before training: it downloads the VGG16 weights, if
// pre-trained weights are configured.
func ModelPrep(ctx *context.Context, dataDir string, checkpoint *checkpoints.Handler) {
	ctx.SetParam("data_dir", dataDir)
	if context.GetParamOr(ctx, ParamVGG16PreTrained, true) {
		must.M(vgg16.DownloadAndUnpackWeights(dataDir))
	}
}

// NumOutputUnits of the model head: binary classification uses a single
// logit, otherwise one logit per class.
func NumOutputUnits(numClasses int) int {
	if numClasses == 2 {
		return 1
	}
	return numClasses
}

// ModelGraph builds the classifier: the VGG16 embedding of the images,
// followed by an FNN whose output are the classification logits.
//
// The VGG16 base is frozen unless ParamVGG16FineTuning is set, so only the
// FNN on top is trained.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	ctx = ctx.In("model") // Create the model by default under the "/model" scope.
	_ = spec              // Not needed.
	images := inputs[0]   // Images scaled from 0.0 to 1.0
	channelsConfig := timage.ChannelsLast
	images = vgg16.PreprocessImage(images, 1.0, channelsConfig)
	var preTrainedPath string
	if context.GetParamOr(ctx, ParamVGG16PreTrained, true) {
		preTrainedPath = context.GetParamOr(ctx, "data_dir", ".")
	}
	embedding := vgg16.BuildGraph(ctx, images).
		PreTrained(preTrainedPath).
		SetPooling(vgg16.MaxPooling).
		Trainable(context.GetParamOr(ctx, ParamVGG16FineTuning, false)).
		Done()
	numClasses := context.GetParamOr(ctx, ParamNumClasses, 2)
	logits := fnn.New(ctx.In("fnn"), embedding, NumOutputUnits(numClasses)).Done()
	return []*Node{logits}
}
