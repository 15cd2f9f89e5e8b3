// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package hdf5 reads numeric datasets from HDF5 files.
//
// It requires the `hdf5-tools` (a deb package) installed in the system, more specifically the
// `h5dump` binary.
package hdf5

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
	"github.com/thongonary/AnomalyTrigger/pkg/events"
	"github.com/thongonary/AnomalyTrigger/pkg/features"
	"k8s.io/klog/v2"
)

// H5DumpBinary is the program used to read HDF5 files. It is looked up in the PATH unless it
// contains a path separator.
var H5DumpBinary = "h5dump"

// Dataset holds the metadata of one dataset in an HDF5 file, but not the data itself.
type Dataset struct {
	FilePath, Path string
	DType          dtypes.DType
	Dims           []int
}

// Size is the number of elements in the dataset.
func (ds *Dataset) Size() int {
	size := 1
	for _, dim := range ds.Dims {
		size *= dim
	}
	return size
}

// Header reads the metadata of the dataset in datasetPath (e.g.: "/Particles") of the HDF5 file.
//
// Files that can't be accessed or parsed return errors matching events.ErrRead, and a missing dataset
// an error matching features.ErrMissingField.
func Header(filePath, datasetPath string) (*Dataset, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, events.WrapRead(err, "cannot access HDF5 file in path %q", filePath)
	}
	datasetPath = normalizePath(datasetPath)
	if strings.HasPrefix(strings.TrimPrefix(datasetPath, "/"), "-") {
		return nil, errors.Errorf("invalid dataset name starting with '-': %q", datasetPath)
	}
	header, err := execH5Dump("--header", "--dataset="+datasetPath, filePath)
	if err != nil {
		return nil, err
	}
	return parseHeader(filePath, datasetPath, string(header))
}

func normalizePath(datasetPath string) string {
	if !strings.HasPrefix(datasetPath, "/") {
		return "/" + datasetPath
	}
	return datasetPath
}

var (
	regexpHeaderName      = regexp.MustCompile(`\s+"(.*?)" \{\n`)
	regexpHeaderDataType  = regexp.MustCompile(`\s+DATATYPE\s+(\w.*?)\n`)
	regexpHeaderDataSpace = regexp.MustCompile(`\s+DATASPACE\s+(\w+)(\s+\{\s+\((.*?)\).*?)?\n`)
)

// parseHeader parses the output of `h5dump --header --dataset=<datasetPath>`.
func parseHeader(filePath, datasetPath, header string) (*Dataset, error) {
	parts := strings.Split(header, "DATASET")
	if len(parts) != 2 {
		return nil, errors.Wrapf(features.ErrMissingField, "dataset %q not found in HDF5 file %q", datasetPath, filePath)
	}
	part := parts[1]
	if matches := regexpHeaderName.FindStringSubmatch(part); len(matches) != 2 || matches[1] != datasetPath {
		return nil, errors.Errorf("failed to parse dataset header of %q in %q: got %q", datasetPath, filePath, part)
	}
	ds := &Dataset{FilePath: filePath, Path: datasetPath}

	matches := regexpHeaderDataType.FindStringSubmatch(part)
	if len(matches) != 2 {
		return nil, errors.Errorf("no DATATYPE for dataset %q in %q", datasetPath, filePath)
	}
	ds.DType = DTypeForH5T(matches[1])
	if ds.DType == dtypes.InvalidDType {
		return nil, errors.Errorf("dataset %q in %q has unsupported data type %q", datasetPath, filePath, matches[1])
	}

	matches = regexpHeaderDataSpace.FindStringSubmatch(part)
	if len(matches) != 4 {
		return nil, errors.Errorf("no DATASPACE for dataset %q in %q", datasetPath, filePath)
	}
	switch matches[1] {
	case "SCALAR":
		ds.Dims = []int{}
	case "SIMPLE":
		for _, dimStr := range strings.Split(matches[3], ",") {
			dim, err := strconv.Atoi(strings.TrimSpace(dimStr))
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse DATASPACE of %q in %q", datasetPath, filePath)
			}
			ds.Dims = append(ds.Dims, dim)
		}
	default:
		return nil, errors.Errorf("dataset %q in %q has unsupported DATASPACE %q", datasetPath, filePath, matches[1])
	}
	return ds, nil
}

// DTypeForH5T returns the DType corresponding to known HDF5 types, or dtypes.InvalidDType.
func DTypeForH5T(h5type string) dtypes.DType {
	switch h5type {
	case "H5T_IEEE_F32LE", "H5T_IEEE_F32BE":
		return dtypes.Float32
	case "H5T_IEEE_F64LE", "H5T_IEEE_F64BE":
		return dtypes.Float64
	case "H5T_STD_I8LE", "H5T_STD_I8BE":
		return dtypes.Int8
	case "H5T_STD_U8LE", "H5T_STD_U8BE":
		return dtypes.Uint8
	case "H5T_STD_I16LE", "H5T_STD_I16BE":
		return dtypes.Int16
	case "H5T_STD_U16LE", "H5T_STD_U16BE":
		return dtypes.Uint16
	case "H5T_STD_U32LE", "H5T_STD_U32BE":
		return dtypes.Uint32
	case "H5T_STD_U64LE", "H5T_STD_U64BE":
		return dtypes.Uint64
	case "H5T_STD_I32LE", "H5T_STD_I32BE":
		return dtypes.Int32
	case "H5T_STD_I64LE", "H5T_STD_I64BE":
		return dtypes.Int64
	}
	return dtypes.InvalidDType
}

// execH5Dump executes `h5dump` and returns its output.
func execH5Dump(args ...string) ([]byte, error) {
	binPath, err := exec.LookPath(H5DumpBinary)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot find `h5dump` binary in PATH, needed to parse HDF5 "+
			"format files (extension \".h5\"): please install package hdf5-tools, which usually "+
			"holds `h5dump`")
	}
	klog.V(2).Infof("using h5dump from %q", binPath)
	cmd := exec.Command(binPath, args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdoutBuf, &stderrBuf
	if err := cmd.Run(); err != nil {
		err = events.WrapRead(err, "failed executing %q to access HDF5 file", cmd)
		return nil, errors.WithMessagef(err, "STDERR captured:\n%s\n", stderrBuf.String())
	}
	return stdoutBuf.Bytes(), nil
}

// Load the raw binary content of the dataset, in the machine native byte order.
func (ds *Dataset) Load() ([]byte, error) {
	tmpFile, err := os.CreateTemp("", "hdf5_dataset")
	if err == nil {
		err = tmpFile.Close()
	}
	if err != nil {
		return nil, events.WrapRead(err, "failed to create temporary file to extract HDF5 dataset")
	}
	defer func() {
		if err := os.Remove(tmpFile.Name()); err != nil {
			klog.Warningf("failed to remove temporary file %q used to extract HDF5 dataset: %+v", tmpFile.Name(), err)
		}
	}()
	if _, err = execH5Dump("--dataset="+ds.Path, "--binary=NATIVE", "--output="+tmpFile.Name(), ds.FilePath); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(tmpFile.Name())
	if err != nil {
		return nil, events.WrapRead(err, "failed to read from temporary file %q to extract HDF5 dataset", tmpFile.Name())
	}
	return raw, nil
}

// Float64s loads the dataset and converts its values to float64.
func (ds *Dataset) Float64s() ([]float64, error) {
	raw, err := ds.Load()
	if err != nil {
		return nil, err
	}
	return decode(raw, ds.DType, ds.Size())
}

// decode converts size little-endian values of the given dtype to float64.
func decode(raw []byte, dtype dtypes.DType, size int) ([]float64, error) {
	elemSize := int(dtype.Size())
	if elemSize == 0 || len(raw) != size*elemSize {
		return nil, errors.Wrapf(events.ErrRead, "expected %d values of %s (%d bytes), got %d bytes", size, dtype, size*elemSize, len(raw))
	}
	values := make([]float64, size)
	le := binary.LittleEndian
	for ii := range values {
		b := raw[ii*elemSize:]
		switch dtype {
		case dtypes.Float32:
			values[ii] = float64(math.Float32frombits(le.Uint32(b)))
		case dtypes.Float64:
			values[ii] = math.Float64frombits(le.Uint64(b))
		case dtypes.Int8:
			values[ii] = float64(int8(b[0]))
		case dtypes.Uint8:
			values[ii] = float64(b[0])
		case dtypes.Int16:
			values[ii] = float64(int16(le.Uint16(b)))
		case dtypes.Uint16:
			values[ii] = float64(le.Uint16(b))
		case dtypes.Uint32:
			values[ii] = float64(le.Uint32(b))
		case dtypes.Uint64:
			values[ii] = float64(le.Uint64(b))
		case dtypes.Int32:
			values[ii] = float64(int32(le.Uint32(b)))
		case dtypes.Int64:
			values[ii] = float64(int64(le.Uint64(b)))
		default:
			return nil, errors.Errorf("unsupported dtype %s", dtype)
		}
	}
	return values, nil
}

// Reader reads arrays from HDF5 files using h5dump.
type Reader struct{}

// ReadArray reads the dataset named field from the HDF5 file in path.
func (Reader) ReadArray(path, field string) (dims []int, data []float64, err error) {
	ds, err := Header(path, field)
	if err != nil {
		return nil, nil, err
	}
	data, err = ds.Float64s()
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "reading %q from %q", field, path)
	}
	return ds.Dims, data, nil
}
