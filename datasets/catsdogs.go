// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets downloads (or prepares) the image datasets used by the
// classifier and materializes them into the directory-per-class layout the
// imagedir package reads: one directory per split (train, validation, test),
// each with one sub-directory per class.
//
// The splits are deterministic: each image is assigned to a fold by hashing
// the split seed and the image name, so re-running the preparation always
// produces the same splits.
package datasets

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/mpinho/vggtransfer/classifier"
	"github.com/mpinho/vggtransfer/downloader"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// CatsDogsURL of the "Dogs vs Cats" dataset zip, hosted by Microsoft.
	CatsDogsURL = "https://download.microsoft.com/download/3/E/1/3E1C3F21-ECDB-4869-8368-6DEBA77B919F/kagglecatsanddogs_5340.zip"

	// CatsDogsZipFile is the local name of the downloaded zip.
	CatsDogsZipFile = "kagglecatsanddogs_5340.zip"

	// CatsDogsZipDir is the directory the zip extracts to.
	CatsDogsZipDir = "PetImages"

	// CatsDogsChecksum is the SHA256 checksum of the zip.
	CatsDogsChecksum = "b7974bd00a84a99921f36ee4403f089853777b5ae8d151c76a86e64900334af9"

	// invalidSubDir is where mal-formed images are quarantined.
	invalidSubDir = "invalid"

	// numSplitFolds the images are hashed into. Folds 0 to 7 go to the train
	// split, fold 8 to validation and fold 9 to test.
	numSplitFolds  = 10
	validationFold = 8
	testFold       = 9
)

var (
	// catsDogsClasses are the class sub-directories inside CatsDogsZipDir.
	catsDogsClasses = []string{"Cat", "Dog"}

	// Images known to be mal-formed in the zip (truncated or not an image).
	// They are moved aside before the splits are created.
	badCatImages = map[int]bool{10404: true, 11095: true, 12080: true, 5370: true, 6435: true, 666: true}
	badDogImages = map[int]bool{11233: true, 11702: true, 11912: true, 2317: true, 9500: true}

	catsDogsBadImages = map[string]map[int]bool{
		"Cat": badCatImages,
		"Dog": badDogImages,
	}
)

// DownloadCatsDogs downloads and unzips the "Dogs vs Cats" dataset under
// config.DataDir, quarantines the images known to be mal-formed and
// materializes the train/validation/test splits, assigning images to the
// splits by hashing the seed and the image index.
//
// It only does the work not done yet, so it is cheap to call on every run.
func DownloadCatsDogs(config *classifier.Config, seed int32) error {
	baseDir := fsutil.MustReplaceTildeInDir(config.DataDir)
	zipFilePath := path.Join(baseDir, CatsDogsZipFile)
	targetZipPath := path.Join(baseDir, CatsDogsZipDir)
	err := downloader.DownloadAndUnzipIfMissing(CatsDogsURL, zipFilePath, baseDir, targetZipPath, CatsDogsChecksum)
	if err != nil {
		return err
	}
	if err = quarantineBadImages(baseDir); err != nil {
		return err
	}
	return materializeCatsDogsSplits(config, baseDir, seed)
}

// quarantineBadImages moves the images known to be mal-formed out of the
// class directories, into the "invalid" sub-directory.
func quarantineBadImages(baseDir string) error {
	invalidDir := path.Join(baseDir, invalidSubDir)
	if fsutil.MustFileExists(invalidDir) {
		// Assume they have already been quarantined.
		return nil
	}
	for _, class := range catsDogsClasses {
		invalidClassDir := path.Join(invalidDir, class)
		if err := os.MkdirAll(invalidClassDir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create %q", invalidClassDir)
		}
		classDir := path.Join(baseDir, CatsDogsZipDir, class)
		for imgIdx := range catsDogsBadImages[class] {
			name := fmt.Sprintf("%d.jpg", imgIdx)
			imgPath := path.Join(classDir, name)
			klog.Infof("Moving %s to %s: image known to have invalid format", imgPath, invalidClassDir)
			if err := os.Rename(imgPath, path.Join(invalidClassDir, name)); err != nil {
				return errors.Wrapf(err, "failed to quarantine %q", imgPath)
			}
		}
	}
	return nil
}

// splitFold deterministically assigns a fold from 0 to numSplitFolds-1 to the
// image: it hashes the seed and the image name, so the same seed always
// produces the same assignment.
func splitFold(seed int32, imageName string) int {
	buffer := bytes.NewBuffer(make([]byte, 0, 8+len(imageName)))
	_ = binary.Write(buffer, binary.LittleEndian, seed)
	buffer.WriteString(imageName)
	hashValue := crc32.ChecksumIEEE(buffer.Bytes())
	return int(hashValue % uint32(numSplitFolds))
}

// splitDirForFold returns the split directory the fold belongs to.
func splitDirForFold(config *classifier.Config, fold int) string {
	switch fold {
	case validationFold:
		return config.ValidationDir
	case testFold:
		return config.TestDir
	default:
		return config.TrainDir
	}
}

// materializeCatsDogsSplits hard-links (or copies) every valid image into its
// split directory, under its class sub-directory.
func materializeCatsDogsSplits(config *classifier.Config, baseDir string, seed int32) error {
	if fsutil.MustFileExists(config.TrainDir) {
		// Assume the splits were already created.
		return nil
	}
	for _, class := range catsDogsClasses {
		classDir := path.Join(baseDir, CatsDogsZipDir, class)
		entries, err := os.ReadDir(classDir)
		if err != nil {
			return errors.Wrapf(err, "failed to list images in %q", classDir)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jpg") {
				continue
			}
			splitDir := splitDirForFold(config, splitFold(seed, entry.Name()))
			targetDir := path.Join(splitDir, class)
			if err = os.MkdirAll(targetDir, 0755); err != nil {
				return errors.Wrapf(err, "failed to create %q", targetDir)
			}
			err = linkOrCopy(path.Join(classDir, entry.Name()), path.Join(targetDir, entry.Name()))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// linkOrCopy hard-links src to dst, falling back to a copy if linking is not
// supported by the filesystem.
func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	srcFile, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", src)
	}
	defer func() { _ = srcFile.Close() }()
	dstFile, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", dst)
	}
	if _, err = io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return errors.Wrapf(err, "failed to copy %q to %q", src, dst)
	}
	return dstFile.Close()
}
