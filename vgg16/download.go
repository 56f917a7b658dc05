// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package vgg16

import (
	"fmt"
	"path"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/mpinho/vggtransfer/downloader"
	"github.com/mpinho/vggtransfer/hdf5"
)

const (
	// WeightsURL is the URL for the whole model, including the top layers: the
	// two 4096 dense layers and the 1000-classes ImageNet classification layer.
	WeightsURL = "https://storage.googleapis.com/tensorflow/keras-applications/vgg16/vgg16_weights_tf_dim_ordering_tf_kernels.h5"

	// WeightsNoTopURL is the URL for the model without the top layers. This is
	// the one used for transfer learning, when using only the image embedding.
	WeightsNoTopURL = "https://storage.googleapis.com/tensorflow/keras-applications/vgg16/vgg16_weights_tf_dim_ordering_tf_kernels_notop.h5"

	// WeightsH5Checksum is the SHA256 checksum of the weights file. If empty
	// the downloaded file is not validated.
	WeightsH5Checksum = ""

	// WeightsNoTopH5Checksum is the SHA256 checksum of the weights file, the
	// version without the top layers. If empty the downloaded file is not
	// validated.
	WeightsNoTopH5Checksum = ""

	// WeightsH5Name is the name of the local ".h5" file with the weights.
	WeightsH5Name = "vgg16_weights.h5"

	// WeightsNoTopH5Name is the name of the local ".h5" file with the weights
	// without the top layers.
	WeightsNoTopH5Name = "vgg16_weights_no_top.h5"

	// UnpackedWeightsName is the name of the subdirectory that will hold the
	// unpacked weights.
	UnpackedWeightsName = "vgg16_weights"

	// UnpackedWeightsNoTopName is the name of the subdirectory that will hold
	// the unpacked weights without the top layers.
	UnpackedWeightsNoTopName = "vgg16_weights_no_top"
)

// DownloadAndUnpackWeights downloads the VGG16 weights without the
// classification top to the given baseDir and unpacks each tensor. It only
// does the work if the files are not there yet (downloaded and unpacked).
//
// It is verbose and uses a progressbar if downloading/unpacking. It is quiet
// if there is nothing to do, that is, if the files are already there.
func DownloadAndUnpackWeights(baseDir string) error {
	return downloadAndUnpackWeightsImpl(baseDir, WeightsNoTopURL, WeightsNoTopH5Checksum,
		WeightsNoTopH5Name, UnpackedWeightsNoTopName)
}

// DownloadAndUnpackWeightsTop is similar to DownloadAndUnpackWeights, but uses
// the version with the 1000-classes ImageNet classification top. Needed if
// building the graph with ClassificationTop(true).
func DownloadAndUnpackWeightsTop(baseDir string) error {
	return downloadAndUnpackWeightsImpl(baseDir, WeightsURL, WeightsH5Checksum,
		WeightsH5Name, UnpackedWeightsName)
}

func downloadAndUnpackWeightsImpl(baseDir, weightsURL, sha256Checksum, weightsH5Name, unpackedWeightsName string) (err error) {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	unpackedWeightsPath := path.Join(baseDir, unpackedWeightsName)
	if fsutil.MustFileExists(unpackedWeightsPath) {
		// Weights already unpacked, done.
		return
	}

	weightsH5Path := path.Join(baseDir, weightsH5Name)
	err = downloader.DownloadIfMissing(weightsURL, weightsH5Path, sha256Checksum)
	if err != nil {
		return err
	}

	fmt.Printf("Unpacking weights to %s:\n", unpackedWeightsPath)
	return hdf5.UnpackToTensors(unpackedWeightsPath, weightsH5Path).ProgressBar().Done()
}

// PathToTensor returns the path to tensorName (name within the h5 file) for
// the weights without the classification top.
func PathToTensor(baseDir, tensorName string) string {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	return path.Join(baseDir, UnpackedWeightsNoTopName, tensorName)
}

// PathToTensorTop returns the path to tensorName (name within the h5 file) for
// the weights with the classification top.
func PathToTensorTop(baseDir, tensorName string) string {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	return path.Join(baseDir, UnpackedWeightsName, tensorName)
}
