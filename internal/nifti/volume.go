package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrsinham/dicombids/internal/util"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// Volume is a NIfTI image held in memory as physical values (scl_slope and
// scl_inter already applied). Voxels are ordered x fastest, then y, z and t.
type Volume struct {
	Header Header
	Data   []float64
}

// New builds a float32 volume with unit spacing and an identity sform.
func New(nx, ny, nz, nt int, data []float64) (*Volume, error) {
	if nx < 1 || ny < 1 || nz < 1 || nt < 1 {
		return nil, fmt.Errorf("nifti: invalid dimensions %dx%dx%dx%d", nx, ny, nz, nt)
	}
	if len(data) != nx*ny*nz*nt {
		return nil, fmt.Errorf("nifti: %d voxels do not fill %dx%dx%dx%d", len(data), nx, ny, nz, nt)
	}
	h := Header{
		SizeOfHdr: headerSize,
		DataType:  DTFloat32,
		BitPix:    32,
		PixDim:    [8]float32{1, 1, 1, 1, 1, 1, 1, 1},
		SclSlope:  1,
		VoxOffset: dataOffset,
		SFormCode: 1,
		SRowX:     [4]float32{1, 0, 0, 0},
		SRowY:     [4]float32{0, 1, 0, 0},
		SRowZ:     [4]float32{0, 0, 1, 0},
		XYZTUnits: 2 | 8, // mm, s
		Magic:     singleFileMagic,
	}
	h.Dim = [8]int16{3, int16(nx), int16(ny), int16(nz), 1, 1, 1, 1}
	if nt > 1 {
		h.Dim[0] = 4
		h.Dim[4] = int16(nt)
	}
	return &Volume{Header: h, Data: data}, nil
}

// Dims returns the spatial size and the number of time frames.
func (v *Volume) Dims() (nx, ny, nz, nt int) {
	d := v.Header.Dim
	get := func(i int) int {
		if int(d[0]) < i || d[i] < 1 {
			return 1
		}
		return int(d[i])
	}
	return get(1), get(2), get(3), get(4)
}

// Frames returns the length of the time axis; 3-D volumes have one frame.
func (v *Volume) Frames() int {
	_, _, _, nt := v.Dims()
	return nt
}

func (v *Volume) frameSize() int {
	nx, ny, nz, _ := v.Dims()
	return nx * ny * nz
}

// Split returns one 3-D volume per time frame, each carrying the original
// spatial transform.
func (v *Volume) Split() []*Volume {
	n := v.frameSize()
	frames := make([]*Volume, v.Frames())
	for t := range frames {
		h := v.Header
		h.Dim[0] = 3
		h.Dim[4] = 1
		data := make([]float64, n)
		copy(data, v.Data[t*n:(t+1)*n])
		frames[t] = &Volume{Header: h, Data: data}
	}
	return frames
}

// Concat joins 3-D volumes along time. All frames must share the grid and
// spatial transform of the first one.
func Concat(frames []*Volume) (*Volume, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("nifti: no frames to concatenate")
	}
	first := frames[0]
	nx, ny, nz, _ := first.Dims()
	data := make([]float64, 0, nx*ny*nz*len(frames))
	for i, f := range frames {
		fx, fy, fz, ft := f.Dims()
		if fx != nx || fy != ny || fz != nz || ft != 1 {
			return nil, fmt.Errorf("nifti: frame %d is %dx%dx%dx%d, want %dx%dx%d", i, fx, fy, fz, ft, nx, ny, nz)
		}
		if !SameTransform(first.Header, f.Header) {
			return nil, fmt.Errorf("nifti: frame %d has a different spatial transform", i)
		}
		data = append(data, f.Data...)
	}
	h := first.Header
	if len(frames) > 1 {
		h.Dim[0] = 4
		h.Dim[4] = int16(len(frames))
	}
	return &Volume{Header: h, Data: data}, nil
}

// Scale multiplies every voxel by c.
func (v *Volume) Scale(c float64) {
	floats.Scale(c, v.Data)
}

// Read loads a .nii or .nii.gz file. Compression is detected from content.
func Read(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	v, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v, nil
}

// Decode reads a volume, inflating gzip input transparently.
func Decode(r io.Reader) (*Volume, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(content) > 2 && content[0] == 0x1f && content[1] == 0x8b {
		log.WithFields(log.Fields{
			"decompression": "gzip",
		}).Debug("Decompressing ...")
		g, err := gzip.NewReader(bytes.NewReader(content))
		if err != nil {
			return nil, err
		}
		content, err = io.ReadAll(g)
		_ = g.Close()
		if err != nil {
			return nil, err
		}
	}

	h, order, err := readHeader(content)
	if err != nil {
		return nil, err
	}
	if h.Dim[0] > 4 {
		return nil, fmt.Errorf("nifti: %d-D volumes are not supported", h.Dim[0])
	}
	size := bytesPerVoxel(h.DataType)
	if size == 0 {
		return nil, fmt.Errorf("nifti: unsupported datatype %d", h.DataType)
	}

	offset := int(h.VoxOffset)
	if offset < dataOffset {
		offset = dataOffset
	}
	v := &Volume{Header: h}
	nx, ny, nz, nt := v.Dims()
	n := nx * ny * nz * nt
	if len(content) < offset+n*size {
		return nil, fmt.Errorf("nifti: file has %d bytes, need %d", len(content), offset+n*size)
	}

	v.Data = make([]float64, n)
	raw := content[offset:]
	for i := range v.Data {
		b := raw[i*size : (i+1)*size]
		switch h.DataType {
		case DTUint8:
			v.Data[i] = float64(b[0])
		case DTInt8:
			v.Data[i] = float64(int8(b[0]))
		case DTInt16:
			v.Data[i] = float64(int16(order.Uint16(b)))
		case DTUint16:
			v.Data[i] = float64(order.Uint16(b))
		case DTInt32:
			v.Data[i] = float64(int32(order.Uint32(b)))
		case DTUint32:
			v.Data[i] = float64(order.Uint32(b))
		case DTFloat32:
			v.Data[i] = float64(math.Float32frombits(order.Uint32(b)))
		case DTFloat64:
			v.Data[i] = math.Float64frombits(order.Uint64(b))
		}
	}

	if h.SclSlope != 0 && (h.SclSlope != 1 || h.SclInter != 0) {
		floats.Scale(float64(h.SclSlope), v.Data)
		floats.AddConst(float64(h.SclInter), v.Data)
	}
	v.Header.SclSlope = 1
	v.Header.SclInter = 0
	return v, nil
}

// Encode writes the volume as little-endian float32 with unit scaling.
func Encode(w io.Writer, v *Volume) error {
	h := v.Header
	h.SizeOfHdr = headerSize
	h.DataType = DTFloat32
	h.BitPix = 32
	h.VoxOffset = dataOffset
	h.SclSlope = 1
	h.SclInter = 0
	h.Magic = singleFileMagic

	if err := writeHeader(w, h); err != nil {
		return err
	}
	buf := make([]byte, 4*len(v.Data))
	for i, x := range v.Data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(x)))
	}
	_, err := w.Write(buf)
	return err
}

// Write stores the volume at path, gzip-compressed when path ends in ".gz".
// The file is replaced atomically.
func Write(path string, v *Volume) error {
	return util.WriteFileAtomic(path, func(w io.Writer) error {
		return EncodeNamed(w, filepath.Base(path), v)
	})
}

// EncodeNamed encodes v as the content of a file called name, compressing it
// when name ends in ".gz".
func EncodeNamed(w io.Writer, name string, v *Volume) error {
	if !strings.HasSuffix(name, ".gz") {
		return Encode(w, v)
	}
	g := gzip.NewWriter(w)
	g.Name = strings.TrimSuffix(name, ".gz")
	if err := Encode(g, v); err != nil {
		_ = g.Close()
		return err
	}
	return g.Close()
}
