// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

// Package hdf5 provides a trivial API to extract tensors from HDF5 files, the
// format Keras distributes pre-trained weights in.
//
// It requires the `hdf5-tools` (a deb package) installed in the system, more
// specifically the `h5dump` binary.
package hdf5

import (
	"bytes"
	"os"
	"os/exec"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/compute/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Contents is a map of all the datasets present in an HDF5 file. The key is
// the path built from the concatenation of the "group" (how HDF5 calls
// directories) with the dataset name, separated by a "/" character.
type Contents map[string]*Dataset

// Dataset holds the metadata about one HDF5 dataset (but not the data itself).
// The "DATATYPE" and "DATASPACE" fields are converted to the equivalent GoMLX
// shapes.Shape.
type Dataset struct {
	FilePath, GroupPath string
	DType               dtypes.DType
	Shape               shapes.Shape
}

const h5DumpBinary = "h5dump"

var (
	regexpDatasets        = regexp.MustCompile(`\s+dataset\s+(/.*)\n`)
	regexpHeaderName      = regexp.MustCompile(`\s+"(.*?)" \{\n`)
	regexpHeaderDataType  = regexp.MustCompile(`\s+DATATYPE\s+(\w.*?)\n`)
	regexpHeaderDataSpace = regexp.MustCompile(`\s+DATASPACE\s+(\w+)(\s+\{\s+\((.*?)\).*?)?\n`)
)

// ParseFile lists the datasets of the HDF5 file in filePath, along with their
// dtypes and shapes, when parseable.
func ParseFile(filePath string) (contents Contents, err error) {
	_, err = os.Stat(filePath)
	if err != nil {
		err = errors.Wrapf(err, "cannot access HDF5 file in path %q", filePath)
		return
	}

	contentsBytes, err := execH5Dump("--contents", filePath)
	if err != nil {
		return
	}
	matches := regexpDatasets.FindAllStringSubmatch(string(contentsBytes), -1)
	contents = make(Contents, len(matches))
	for _, match := range matches {
		groupPath := match[1]
		if strings.HasPrefix(groupPath, "-") {
			// Protect against dataset names that would be parsed as h5dump flags.
			return nil, errors.Errorf("invalid dataset name starting with '-': %q", groupPath)
		}
		contents[groupPath] = &Dataset{
			FilePath:  filePath,
			GroupPath: groupPath,
		}
	}

	// Read the headers of all datasets in one h5dump call.
	headerArgs := make([]string, 0, len(contents)+2)
	headerArgs = append(headerArgs, "--header")
	for key := range contents {
		headerArgs = append(headerArgs, "--dataset="+key)
	}
	headerArgs = append(headerArgs, filePath)
	headerBytes, err := execH5Dump(headerArgs...)
	if err != nil {
		return
	}
	rawHeaders := strings.Split(string(headerBytes), "DATASET")
	if len(rawHeaders)-1 != len(contents) {
		err = errors.Errorf("failed to parse dataset headers for %q: expected %d DATASET, got %d",
			filePath, len(contents), len(rawHeaders)-1)
		return
	}
	for _, part := range rawHeaders[1:] {
		if err = parseHeader(contents, filePath, part); err != nil {
			return
		}
	}
	return
}

func parseHeader(contents Contents, filePath, part string) error {
	matches := regexpHeaderName.FindStringSubmatch(part)
	if len(matches) != 2 {
		return errors.Errorf("failed to parse dataset headers for %q: got %q", filePath, part)
	}
	ds, found := contents[matches[1]]
	if !found {
		return errors.Errorf("unknown headers for %q: got %q", filePath, part)
	}

	matches = regexpHeaderDataType.FindStringSubmatch(part)
	if len(matches) != 2 {
		return nil // DType not parseable, dataset is skipped during unpacking.
	}
	ds.DType = dtypeForH5T(matches[1])
	if ds.DType == dtypes.InvalidDType {
		return nil
	}

	matches = regexpHeaderDataSpace.FindStringSubmatch(part)
	if len(matches) != 4 {
		klog.V(1).Infof("hdf5: DATASPACE not parsed for dataset %q", ds.GroupPath)
		return nil
	}
	switch matches[1] {
	case "SCALAR":
		ds.Shape = shapes.Make(ds.DType)
	case "SIMPLE":
		dimsParts := strings.Split(matches[3], ",")
		dims := make([]int, 0, len(dimsParts))
		for _, dimStr := range dimsParts {
			dim, numErr := strconv.Atoi(strings.TrimSpace(dimStr))
			if numErr != nil {
				klog.V(1).Infof("hdf5: failed to parse dimension in DATASPACE of %q", ds.GroupPath)
				return nil
			}
			dims = append(dims, dim)
		}
		ds.Shape = shapes.Make(ds.DType, dims...)
	default:
		klog.V(1).Infof("hdf5: DATASPACE type unknown for dataset %q: %s", ds.GroupPath, matches[1])
	}
	return nil
}

// dtypeForH5T returns the DType corresponding to known HDF5 types. If not
// known/supported, returns an invalid dtype.
func dtypeForH5T(h5type string) dtypes.DType {
	switch h5type {
	case "H5T_IEEE_F32LE", "H5T_IEEE_F32BE":
		return dtypes.Float32
	case "H5T_IEEE_F64LE", "H5T_IEEE_F64BE":
		return dtypes.Float64
	case "H5T_STD_I32LE", "H5T_STD_I32BE":
		return dtypes.Int32
	case "H5T_STD_I64LE", "H5T_STD_I64BE":
		return dtypes.Int64
	}
	return dtypes.InvalidDType
}

func execH5Dump(args ...string) (output []byte, err error) {
	binPath, err := exec.LookPath(h5DumpBinary)
	if err != nil {
		err = errors.Wrapf(err, "cannot find `h5dump` binary in PATH, needed to parse HDF5 "+
			"format files (extension \".h5\") -- please install the hdf5-tools package, which "+
			"usually holds `h5dump`")
		return
	}
	cmd := exec.Command(binPath, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdoutBuf, &stderrBuf
	err = cmd.Run()
	if err != nil {
		err = errors.Wrapf(err, "failed executing %q to access HDF5 file", cmd)
		err = errors.WithMessagef(err, "STDERR captured:\n%s\n", stderrBuf.String())
		return
	}
	output = stdoutBuf.Bytes()
	return
}

// Load extracts the raw binary contents of the dataset.
func (ds *Dataset) Load() (rawContent []byte, err error) {
	tmpFile, err := os.CreateTemp("", "hdf5_dataset")
	if err == nil {
		err = tmpFile.Close()
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to create temporary file to extract HDF5 dataset")
		return
	}
	_, err = execH5Dump("--dataset="+ds.GroupPath, "--binary=NATIVE", "--output="+tmpFile.Name(), ds.FilePath)
	if err != nil {
		return
	}
	rawContent, err = os.ReadFile(tmpFile.Name())
	if err != nil {
		err = errors.Wrapf(err, "failed to read from temporary file %q to extract HDF5 dataset", tmpFile.Name())
		return
	}
	if newErr := os.Remove(tmpFile.Name()); newErr != nil {
		klog.Warningf("Failed to remove temporary file %q used to extract HDF5 dataset: %+v", tmpFile.Name(), newErr)
	}
	return
}

// ToTensor reads the HDF5 dataset into a GoMLX tensors.Tensor.
func (ds *Dataset) ToTensor() (tensor *tensors.Tensor, err error) {
	if !ds.Shape.Ok() {
		return nil, errors.Errorf("no shape information from HDF5 dataset %q, can't convert to tensor", ds.GroupPath)
	}
	loadedData, err := ds.Load()
	if err != nil {
		return
	}
	tensor = tensors.FromShape(ds.Shape)
	accessErr := tensor.MutableBytes(func(localData []byte) {
		if len(loadedData) != len(localData) {
			err = errors.Errorf("for shape %s: loaded %d bytes, but tensor uses %d bytes -- not sure how to load it!?",
				ds.Shape, len(loadedData), len(localData))
			return
		}
		copy(localData, loadedData)
	})
	if accessErr != nil {
		return nil, accessErr
	}
	if err != nil {
		return nil, err
	}
	return tensor, nil
}

// UnpackToTensorsConfig holds the configuration created by UnpackToTensors, to
// unpack HDF5 files into a directory structure with the individual tensors
// saved in GoMLX format.
//
// The targetDir must not yet exist.
type UnpackToTensorsConfig struct {
	h5Path, targetDir string
	showProgressBar   bool
	dirPermissions    os.FileMode
}

// UnpackToTensors unpacks tensors from an HDF5 file (typically with an '.h5'
// extension). It will generate one file per tensor, in subdirectories under
// targetDir mimicking the groups structure within the HDF5 file.
//
// It returns a configuration structure that can be further configured. Once
// done configuring, call Done, and it will do the unpacking.
//
// Tensors are serialized with tensors.Tensor.Save and can be read back with
// tensors.Load.
//
// Example: unpack `weights.h5` into `/my/target/directory`:
//
//	err := hdf5.UnpackToTensors("/my/target/directory", "weights.h5").ProgressBar().Done()
func UnpackToTensors(targetDir, h5Path string) *UnpackToTensorsConfig {
	return &UnpackToTensorsConfig{
		h5Path:         h5Path,
		targetDir:      targetDir,
		dirPermissions: 0755,
	}
}

// ProgressBar configures a progressbar to be displayed during the unpacking.
//
// It modifies the configuration and returns itself, so configuration calls can
// be cascaded.
func (c *UnpackToTensorsConfig) ProgressBar() *UnpackToTensorsConfig {
	c.showProgressBar = true
	return c
}

// FilePermissions configures the permissions used for the creation of the
// directories and files. Default is `os.FileMode(0755)`.
//
// It modifies the configuration and returns itself, so configuration calls can
// be cascaded.
func (c *UnpackToTensorsConfig) FilePermissions(perm os.FileMode) *UnpackToTensorsConfig {
	c.dirPermissions = perm
	return c
}

// Done actually does the unpacking according to the configuration.
//
// It unpacks first to a temporary directory and renames it at the very end, so
// a partial unpacking is never mistaken for a complete one.
func (c *UnpackToTensorsConfig) Done() (err error) {
	if fsutil.MustFileExists(c.targetDir) {
		return errors.Errorf("target directory %q already exists -- remove it or move it away first ?", c.targetDir)
	}

	h5, err := ParseFile(c.h5Path)
	if err != nil {
		return
	}

	baseDir := path.Dir(c.targetDir)
	err = os.MkdirAll(baseDir, c.dirPermissions)
	if err != nil {
		return errors.Wrapf(err, "can't create base directory %q where to unpack the HDF5 file to", baseDir)
	}
	tmpDir, err := os.MkdirTemp(baseDir, path.Base(c.targetDir)+".")
	if err != nil {
		return errors.Wrapf(err, "can't create temporary directory under %q to unpack the HDF5 file to", baseDir)
	}
	defer func() {
		if tmpDir == "" {
			return
		}
		if newErr := os.RemoveAll(tmpDir); newErr != nil {
			klog.Errorf("UnpackToTensors(%q, %q): error while cleaning up temporary directory %q: %v",
				c.targetDir, c.h5Path, tmpDir, newErr)
		}
	}()

	var bar *progressbar.ProgressBar
	if c.showProgressBar {
		var totalSize uintptr
		for _, ds := range h5 {
			if ds.Shape.Ok() {
				totalSize += ds.Shape.Memory()
			}
		}
		bar = progressbar.DefaultBytes(int64(totalSize), "")
	}

	for key, ds := range h5 {
		if !ds.Shape.Ok() {
			klog.Infof("UnpackToTensors(%q, %q): skipping dataset %q not parsed as tensor", c.targetDir, c.h5Path, key)
			continue
		}
		var local *tensors.Tensor
		local, err = ds.ToTensor()
		if err != nil {
			return
		}
		dsPath := path.Join(tmpDir, key)
		err = os.MkdirAll(path.Dir(dsPath), c.dirPermissions)
		if err != nil {
			return errors.Wrapf(err, "UnpackToTensors(%q, %q): can't create sub-directory for %q",
				c.targetDir, c.h5Path, dsPath)
		}
		err = local.Save(dsPath)
		if err != nil {
			return errors.WithMessagef(err, "UnpackToTensors(%q, %q)", c.targetDir, c.h5Path)
		}
		if bar != nil {
			_ = bar.Add64(int64(ds.Shape.Memory()))
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	err = os.Rename(tmpDir, c.targetDir)
	if err != nil {
		return errors.Wrapf(err, "UnpackToTensors(%q, %q): failed to rename temporary dir %q to target",
			c.targetDir, c.h5Path, tmpDir)
	}
	tmpDir = "" // Nothing to clean up anymore.
	return
}
