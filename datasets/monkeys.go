// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"os"
	"path"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/mpinho/vggtransfer/classifier"
	"github.com/pkg/errors"
)

// MonkeySpecies maps the class labels (n0 to n9) of the "10 Monkey Species"
// dataset to the species names.
var MonkeySpecies = map[string]string{
	"n0": "alouatta_palliata",
	"n1": "erythrocebus_patas",
	"n2": "cacajao_calvus",
	"n3": "macaca_fuscata",
	"n4": "cebuella_pygmea",
	"n5": "cebus_capucinus",
	"n6": "mico_argentatus",
	"n7": "saimiri_sciureus",
	"n8": "aotus_nigriceps",
	"n9": "trachypithecus_johnii",
}

// Directory names of the "10 Monkey Species" zip, which must be downloaded
// manually (it requires Kaggle credentials) and extracted under the dataset
// directory.
const (
	MonkeysTrainingDir   = "training"
	MonkeysValidationDir = "validation"
)

// findMonkeysClassesDir locates the directory with the n0..n9 class
// sub-directories: the Kaggle zip nests it one level (e.g.
// "training/training/n0"), so both layouts are accepted.
func findMonkeysClassesDir(dir string) (string, error) {
	for _, candidate := range []string{dir, path.Join(dir, path.Base(dir))} {
		if fsutil.MustFileExists(path.Join(candidate, "n0")) {
			return candidate, nil
		}
	}
	return "", errors.Errorf("no n0..n9 class sub-directories found under %q: download the "+
		"\"10 Monkey Species\" dataset from Kaggle and extract it there first", dir)
}

// PrepareMonkeys materializes the train/validation/test splits of the "10
// Monkey Species" dataset. The dataset zip must have been downloaded from
// Kaggle and extracted under config.DataDir first, with its "training" and
// "validation" directories.
//
// The provided validation images are used as the validation split, and the
// test split is carved out of the training images, assigning each to a fold by
// hashing the seed and the image name.
//
// It only does the work not done yet, so it is cheap to call on every run.
func PrepareMonkeys(config *classifier.Config, seed int32) error {
	baseDir := fsutil.MustReplaceTildeInDir(config.DataDir)
	if fsutil.MustFileExists(config.TrainDir) {
		// Assume the splits were already created.
		return nil
	}

	trainingDir, err := findMonkeysClassesDir(path.Join(baseDir, MonkeysTrainingDir))
	if err != nil {
		return err
	}
	validationDir, err := findMonkeysClassesDir(path.Join(baseDir, MonkeysValidationDir))
	if err != nil {
		return err
	}

	for class := range MonkeySpecies {
		// Training images split into train and test.
		err = materializeMonkeysClass(path.Join(trainingDir, class), class, func(name string) string {
			if splitFold(seed, name) == testFold {
				return config.TestDir
			}
			return config.TrainDir
		})
		if err != nil {
			return err
		}

		// Validation images all go to the validation split.
		err = materializeMonkeysClass(path.Join(validationDir, class), class, func(name string) string {
			return config.ValidationDir
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// materializeMonkeysClass hard-links (or copies) every image of the class
// directory into the split selected by splitFn, under the class
// sub-directory.
func materializeMonkeysClass(classDir, class string, splitFn func(name string) string) error {
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return errors.Wrapf(err, "failed to list images in %q", classDir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".jpg") {
			continue
		}
		targetDir := path.Join(splitFn(entry.Name()), class)
		if err = os.MkdirAll(targetDir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create %q", targetDir)
		}
		err = linkOrCopy(path.Join(classDir, entry.Name()), path.Join(targetDir, entry.Name()))
		if err != nil {
			return err
		}
	}
	return nil
}
