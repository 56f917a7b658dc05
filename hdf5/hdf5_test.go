// Copyright 2026 The VGGTransfer Authors. SPDX-License-Identifier: Apache-2.0

package hdf5

import (
	"testing"

	"github.com/gomlx/compute/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTypeForH5T(t *testing.T) {
	assert.Equal(t, dtypes.Float32, dtypeForH5T("H5T_IEEE_F32LE"))
	assert.Equal(t, dtypes.Float64, dtypeForH5T("H5T_IEEE_F64BE"))
	assert.Equal(t, dtypes.Int32, dtypeForH5T("H5T_STD_I32LE"))
	assert.Equal(t, dtypes.Int64, dtypeForH5T("H5T_STD_I64BE"))
	assert.Equal(t, dtypes.InvalidDType, dtypeForH5T("H5T_STRING"))
}

func TestRegexpDatasets(t *testing.T) {
	contentsOutput := `HDF5 "vgg16_weights.h5" {
FILE_CONTENTS {
 group      /
 group      /block1_conv1
 dataset    /block1_conv1/block1_conv1_W_1:0
 dataset    /block1_conv1/block1_conv1_b_1:0
 }
}
`
	matches := regexpDatasets.FindAllStringSubmatch(contentsOutput, -1)
	require.Len(t, matches, 2)
	assert.Equal(t, "/block1_conv1/block1_conv1_W_1:0", matches[0][1])
	assert.Equal(t, "/block1_conv1/block1_conv1_b_1:0", matches[1][1])
}

func TestParseHeader(t *testing.T) {
	contents := Contents{
		"/block1_conv1/block1_conv1_W_1:0": &Dataset{GroupPath: "/block1_conv1/block1_conv1_W_1:0"},
		"/block1_conv1/block1_conv1_b_1:0": &Dataset{GroupPath: "/block1_conv1/block1_conv1_b_1:0"},
		"/scalar":                          &Dataset{GroupPath: "/scalar"},
	}

	kernelHeader := ` "/block1_conv1/block1_conv1_W_1:0" {
   DATATYPE  H5T_IEEE_F32LE
   DATASPACE  SIMPLE { ( 3, 3, 3, 64 ) / ( 3, 3, 3, 64 ) }
}
`
	require.NoError(t, parseHeader(contents, "test.h5", kernelHeader))
	ds := contents["/block1_conv1/block1_conv1_W_1:0"]
	assert.Equal(t, dtypes.Float32, ds.DType)
	require.True(t, ds.Shape.Ok())
	assert.Equal(t, []int{3, 3, 3, 64}, ds.Shape.Dimensions)

	biasHeader := ` "/block1_conv1/block1_conv1_b_1:0" {
   DATATYPE  H5T_IEEE_F32LE
   DATASPACE  SIMPLE { ( 64 ) / ( 64 ) }
}
`
	require.NoError(t, parseHeader(contents, "test.h5", biasHeader))
	ds = contents["/block1_conv1/block1_conv1_b_1:0"]
	assert.Equal(t, []int{64}, ds.Shape.Dimensions)

	scalarHeader := ` "/scalar" {
   DATATYPE  H5T_IEEE_F64LE
   DATASPACE  SCALAR
}
`
	require.NoError(t, parseHeader(contents, "test.h5", scalarHeader))
	ds = contents["/scalar"]
	assert.Equal(t, dtypes.Float64, ds.DType)
	require.True(t, ds.Shape.Ok())
	assert.Equal(t, 0, ds.Shape.Rank())

	// Headers of unknown datasets are an error.
	unknownHeader := ` "/unknown" {
   DATATYPE  H5T_IEEE_F32LE
}
`
	assert.Error(t, parseHeader(contents, "test.h5", unknownHeader))

	// Unsupported dtypes are skipped, not an error.
	stringHeader := ` "/block1_conv1/block1_conv1_W_1:0" {
   DATATYPE  H5T_STRING
}
`
	assert.NoError(t, parseHeader(contents, "test.h5", stringHeader))
}
