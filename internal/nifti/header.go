// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and .nii.gz)
// and provides the frame operations needed to rescale PET series.
//
// Based on the official definition of the nifti1 header,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Header is the 348-byte NIfTI-1 header.
//
// Type translation from nifti1 C header to Go:
//
//	C     Go
//	-------------
//	int   int32
//	float float32
//	short int16
//	char  int8
type Header struct {
	SizeOfHdr          int32    // Must be 348
	UnusedDataType     [10]int8 // Unused
	UnusedDbName       [18]int8 // Unused
	UnusedExtents      int32    // Unused
	UnusedSessionError int16    // Unused
	UnusedRegular      int8     // Unused
	DimInfo            int8     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     int8       // Slice timing order
	XYZTUnits     int8       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	UnusedGlmax   int32      // Unused
	UnusedGlmin   int32      // Unused

	Descrip [80]int8 // Any text you like
	AuxFile [24]int8 // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b params
	QuaternC float32 // Quaternion c params
	QuaternD float32 // Quaternion d params
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]int8 // 'name' or meaning of data

	Magic [4]int8 // Must be "n+1\0" for single-file volumes
}

const (
	headerSize = 348
	dataOffset = 352
)

// Datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

var singleFileMagic = [4]int8{'n', '+', '1', 0}

// readHeader decodes a header, trying little endian first and falling back to
// big endian when the size field does not match.
func readHeader(b []byte) (Header, binary.ByteOrder, error) {
	if len(b) < headerSize {
		return Header{}, nil, fmt.Errorf("nifti: %d bytes is shorter than a header", len(b))
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var h Header
		if _, err := binary.Decode(b[:headerSize], order, &h); err != nil {
			return Header{}, nil, err
		}
		if h.SizeOfHdr != headerSize {
			continue
		}
		if h.Dim[0] < 1 || h.Dim[0] > 7 {
			return Header{}, nil, fmt.Errorf("nifti: dim[0]=%d is not in range [1, 7]", h.Dim[0])
		}
		if h.Magic != singleFileMagic {
			return Header{}, nil, fmt.Errorf("nifti: invalid magic %v, data must be stored in the same file as the header", h.Magic)
		}
		return h, order, nil
	}
	return Header{}, nil, fmt.Errorf("nifti: invalid header size")
}

func writeHeader(w io.Writer, h Header) error {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	// Empty extension flag, pads the header to vox_offset.
	_, err := w.Write(make([]byte, dataOffset-headerSize))
	return err
}

// bytesPerVoxel returns the storage size of a datatype, or 0 if unsupported.
func bytesPerVoxel(dt int16) int {
	switch dt {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTFloat64:
		return 8
	}
	return 0
}

// SameTransform reports whether two headers place voxels identically in space.
func SameTransform(a, b Header) bool {
	return a.QFormCode == b.QFormCode && a.SFormCode == b.SFormCode &&
		a.QuaternB == b.QuaternB && a.QuaternC == b.QuaternC && a.QuaternD == b.QuaternD &&
		a.QOffsetX == b.QOffsetX && a.QOffsetY == b.QOffsetY && a.QOffsetZ == b.QOffsetZ &&
		a.SRowX == b.SRowX && a.SRowY == b.SRowY && a.SRowZ == b.SRowZ &&
		a.PixDim[1] == b.PixDim[1] && a.PixDim[2] == b.PixDim[2] && a.PixDim[3] == b.PixDim[3]
}
