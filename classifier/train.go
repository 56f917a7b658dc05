// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"fmt"
	"os"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/fnn"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
)

// CreateDefaultContext sets the context with default hyperparameters to use
// with TrainModel.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		"num_checkpoints": 3,
		"num_epochs":      10,

		// batch_size for training.
		"batch_size": 16,

		// eval_batch_size can be larger than training, it's more efficient.
		"eval_batch_size": 32,

		// image_size images are resized to, squared.
		"image_size": 224,

		// data_seed makes the order of the training batches reproducible: the
		// same seed always yields the same shuffle.
		"data_seed": 42,

		// Parallel generation of batches.
		"parallelism": true,
		"buffer_size": 32,

		// Image augmentation parameters. Only applied to the training split.
		"augmentation_angle_stddev": 0.0, // Standard deviation of noise used to rotate the image, in degrees.
		"augmentation_random_flips": false,

		// Model parameters.
		ParamNumClasses:      2,
		ParamVGG16PreTrained: true,
		ParamVGG16FineTuning: false,

		optimizers.ParamOptimizer:    "adamw",
		optimizers.ParamLearningRate: 1e-4,
		optimizers.ParamAdamEpsilon:  1e-7,
		activations.ParamActivation:  "",
		layers.ParamDropoutRate:      0.0,

		// FNN head on top of the VGG16 embedding. The default is a single
		// dense output layer, no hidden layers.
		fnn.ParamNumHiddenLayers: 0,
		fnn.ParamNumHiddenNodes:  0,
	})
	return ctx
}

// lossAndMetrics selects the loss and accuracy metrics according to the number
// of classes: binary cross-entropy on a single logit for 2 classes, sparse
// categorical cross-entropy otherwise.
func lossAndMetrics(numClasses int) (lossFn train.LossFn, movingAccuracy, meanAccuracy metrics.Interface) {
	if numClasses == 2 {
		lossFn = losses.BinaryCrossentropyLogits
		movingAccuracy = metrics.NewMovingAverageBinaryLogitsAccuracy("Moving Average Accuracy", "~acc", 0.01)
		meanAccuracy = metrics.NewMeanBinaryLogitsAccuracy("Mean Accuracy", "#acc")
	} else {
		lossFn = losses.SparseCategoricalCrossEntropyLogits
		movingAccuracy = metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)
		meanAccuracy = metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")
	}
	return
}

// NewTrainer creates a train.Trainer for the classifier, with the loss and
// accuracy metrics selected by the number of classes.
func NewTrainer(backend backends.Backend, ctx *context.Context, numClasses int) *train.Trainer {
	lossFn, movingAccuracy, meanAccuracy := lossAndMetrics(numClasses)
	return train.NewTrainer(backend, ctx, ModelGraph,
		lossFn,
		optimizers.FromContext(ctx),
		[]metrics.Interface{movingAccuracy}, // trainMetrics
		[]metrics.Interface{meanAccuracy})   // evalMetrics
}

// TrainModel trains the classifier for the configured number of epochs,
// reporting the validation loss and accuracy after each epoch. At the end, if
// runEval is set, it also reports the evaluation on the train, validation and
// test splits.
//
// If checkpointPath is given, the model is saved there periodically, and
// loaded from there if it already exists, in which case training resumes from
// where it stopped.
func TrainModel(ctx *context.Context, config *Config, checkpointPath string, runEval bool, paramsSet []string) {
	dataDir := fsutil.MustReplaceTildeInDir(config.DataDir)
	if !fsutil.MustFileExists(dataDir) {
		must.M(os.MkdirAll(dataDir, 0777))
	}

	// Checkpoint: it loads if already exists, and it will save as we train.
	var checkpoint *checkpoints.Handler
	if checkpointPath != "" {
		numCheckpoints := context.GetParamOr(ctx, "num_checkpoints", 3)
		checkpoint = must.M1(checkpoints.Build(ctx).
			DirFromBase(checkpointPath, dataDir).
			ExcludeParams(append(
				paramsSet,
				"data_dir",
				"num_epochs",
				"num_checkpoints",
			)...).
			Keep(numCheckpoints).Done())
	}

	// Download the pre-trained weights (if configured) and create datasets.
	ModelPrep(ctx, dataDir, checkpoint)
	trainDS, trainEvalDS, validationEvalDS := must.M3(config.CreateDatasets())

	// Create a train.Trainer: this object will orchestrate running the model,
	// feeding results to the optimizer and evaluating the metrics.
	backend := backends.MustNew()
	trainer := NewTrainer(backend, ctx, config.NumClasses)

	// Use standard training loop with a progress bar.
	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)

	// Attach a checkpoint: saves periodically during training.
	if checkpoint != nil {
		period := time.Minute * 3
		train.PeriodicCallback(loop, period, true, "saving checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}

	// If restarting from a checkpoint, the model variables already exist.
	globalStep := optimizers.GetGlobalStep(ctx)
	if globalStep > 0 {
		fmt.Printf("Resuming training from global_step=%d.\n", globalStep)
		trainer.SetContext(ctx.Reuse())
	}

	// Train one epoch at a time, evaluating on the validation split after
	// each.
	numEpochs := context.GetParamOr(ctx, "num_epochs", 10)
	for epoch := range numEpochs {
		_ = must.M1(loop.RunEpochs(trainDS, 1))
		loss, accuracy := must.M2(Evaluate(trainer, validationEvalDS))
		fmt.Printf("Epoch %d/%d: validation loss=%.4f, accuracy=%.2f%%\n",
			epoch+1, numEpochs, loss, 100.0*accuracy)
	}
	fmt.Printf("Training done (global_step=%d).\n", optimizers.GetGlobalStep(ctx))
	if checkpoint != nil {
		must.M(checkpoint.Save())
	}

	// Finally, print an evaluation on the train, validation and test splits.
	if runEval {
		testEvalDS := must.M1(config.CreateTestDataset())
		fmt.Println()
		must.M(commandline.ReportEval(trainer, trainEvalDS, validationEvalDS, testEvalDS))
		fmt.Println()
	}
}

// Evaluate runs the model over the dataset, without training, and returns the
// mean loss and accuracy. The loss is always non-negative and the accuracy a
// ratio from 0 to 1.
func Evaluate(trainer *train.Trainer, ds train.Dataset) (loss, accuracy float64, err error) {
	var metricsValues []*tensors.Tensor
	metricsValues, err = trainer.Eval(ds)
	if err != nil {
		return
	}
	ds.Reset()
	for metricIdx, metric := range trainer.EvalMetrics() {
		value := shapes.ConvertTo[float64](metricsValues[metricIdx].Value())
		switch metric.ShortName() {
		case "#loss":
			loss = value
		case "#acc":
			accuracy = value
		}
	}
	return
}
