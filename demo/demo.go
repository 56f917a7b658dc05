// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

// demo trains an image classifier by transfer learning on top of the
// pre-trained VGG16 model.
//
// Two datasets are supported, selected with --dataset:
//
//   - "catsdogs": the Kaggle "Dogs vs Cats" dataset (binary classification),
//     downloaded automatically.
//   - "monkeys": the Kaggle "10 Monkey Species" dataset (10 classes), which
//     must be downloaded manually (it requires Kaggle credentials) and
//     extracted under the --data directory.
//
// Hyperparameters are set with --set, e.g. --set="num_epochs=5;batch_size=32".
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/mpinho/vggtransfer/classifier"
	"github.com/mpinho/vggtransfer/datasets"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataset = flag.String("dataset", "catsdogs", "Dataset to train on: \"catsdogs\" or \"monkeys\".")
	flagDataDir = flag.String("data", "~/tmp/vggtransfer", "Directory to cache downloaded datasets, weights and checkpoints.")
	flagEval    = flag.Bool("eval", true, "Whether to evaluate the model on the train, validation and test splits in the end.")

	flagSplitSeed = flag.Int("split_seed", 42, "Seed used to assign images to the train/validation/test splits.")

	// Checkpointing.
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save and load checkpoints from, relative to --data. If left empty, no checkpoints are created.")
)

func main() {
	// Flags with context settings.
	ctx := classifier.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()

	*flagDataDir = fsutil.MustReplaceTildeInDir(*flagDataDir)
	if !fsutil.MustFileExists(*flagDataDir) {
		must.M(os.MkdirAll(*flagDataDir, 0777))
	}
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	if *flagDataset == "monkeys" {
		ctx.SetParam(classifier.ParamNumClasses, 10)
	}
	config := classifier.NewConfigFromContext(ctx, *flagDataDir)
	switch *flagDataset {
	case "catsdogs":
		must.M(datasets.DownloadCatsDogs(config, int32(*flagSplitSeed)))
	case "monkeys":
		must.M(datasets.PrepareMonkeys(config, int32(*flagSplitSeed)))
	default:
		klog.Fatalf("Unknown --dataset=%q: valid values are \"catsdogs\" and \"monkeys\".", *flagDataset)
	}
	fmt.Printf("Dataset: %s (%d classes)\n", *flagDataset, config.NumClasses)

	classifier.TrainModel(ctx, config, *flagCheckpoint, *flagEval, paramsSet)
}
