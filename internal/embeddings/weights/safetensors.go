package weights

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/23skdu/fletcher-clip/internal/device"
)

// Safetensors layout:
//
//	[8 bytes: header size, uint64 LE]
//	[header: JSON, tensor name -> {dtype, shape, data_offsets}]
//	[raw little-endian tensor data]

const (
	dtypeF32  = "F32"
	dtypeF16  = "F16"
	dtypeBF16 = "BF16"

	metadataKey   = "__metadata__"
	maxHeaderSize = 100 << 20
)

var dtypeSizes = map[string]int64{dtypeF32: 4, dtypeF16: 2, dtypeBF16: 2}

// TensorInfo describes one tensor in a safetensors header.
type TensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// NumElements is the product of Shape, or -1 if a dimension is negative.
func (i TensorInfo) NumElements() int {
	n := 1
	for _, d := range i.Shape {
		if d < 0 {
			return -1
		}
		n *= d
	}
	return n
}

// File is an open safetensors file. Tensor data is read on demand.
type File struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo

	file       *os.File
	dataOffset int64
	dataSize   int64
}

// Open reads the header of a safetensors file.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	var headerSize uint64
	if err := binary.Read(f, binary.LittleEndian, &headerSize); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > maxHeaderSize || int64(8+headerSize) > stat.Size() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: header size %d", ErrCorruptHeader, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	st := &File{
		Tensors:    make(map[string]TensorInfo, len(raw)),
		file:       f,
		dataOffset: int64(8 + headerSize),
		dataSize:   stat.Size() - int64(8+headerSize),
	}
	for key, value := range raw {
		if key == metadataKey {
			if err := json.Unmarshal(value, &st.Metadata); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to parse tensor %s: %w", key, err)
		}
		st.Tensors[key] = info
	}
	return st, nil
}

func (f *File) Close() error {
	return f.file.Close()
}

// ReadFloat32 decodes a floating point tensor to float32.
func (f *File) ReadFloat32(name string) ([]float32, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTensor, name)
	}

	elemSize, ok := dtypeSizes[info.DType]
	if !ok {
		return nil, fmt.Errorf("%w: %s has dtype %s", ErrUnsupportedDType, name, info.DType)
	}
	begin, end := info.DataOffsets[0], info.DataOffsets[1]
	if begin < 0 || end < begin || end > f.dataSize {
		return nil, fmt.Errorf("%w: %s has data offsets %v outside %d data bytes", ErrCorruptHeader, name, info.DataOffsets, f.dataSize)
	}
	n := info.NumElements()
	if n < 0 || end-begin != int64(n)*elemSize {
		return nil, fmt.Errorf("%w: %s spans %d bytes for shape %v", ErrShapeMismatch, name, end-begin, info.Shape)
	}

	raw := make([]byte, end-begin)
	if _, err := f.file.ReadAt(raw, f.dataOffset+begin); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var values []float32
	switch info.DType {
	case dtypeF32:
		values = make([]float32, len(raw)/4)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case dtypeF16:
		values = device.DecodeFloat16(raw)
	case dtypeBF16:
		values = device.DecodeBFloat16(raw)
	}

	if len(values) != info.NumElements() {
		return nil, fmt.Errorf("%w: %s holds %d values for shape %v", ErrShapeMismatch, name, len(values), info.Shape)
	}
	return values, nil
}

// Entry is one tensor to be written by Write.
type Entry struct {
	Shape  []int
	Values []float32
}

// Write stores tensors in insertion order, encoded as dtype.
func Write(w io.Writer, tensors *orderedmap.OrderedMap[string, Entry], dtype device.DType, metadata map[string]string) error {
	header := orderedmap.New[string, any]()
	if len(metadata) > 0 {
		header.Set(metadataKey, metadata)
	}

	stDType, err := safetensorsDType(dtype)
	if err != nil {
		return err
	}

	var offset int64
	for pair := tensors.Oldest(); pair != nil; pair = pair.Next() {
		size := int64(len(pair.Value.Values) * dtype.Size())
		header.Set(pair.Key, TensorInfo{
			DType:       stDType,
			Shape:       pair.Value.Shape,
			DataOffsets: [2]int64{offset, offset + size},
		})
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	// Pad so tensor data starts 8-byte aligned.
	for len(headerBytes)%8 != 0 {
		headerBytes = append(headerBytes, ' ')
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
		return err
	}
	if _, err := bw.Write(headerBytes); err != nil {
		return err
	}
	for pair := tensors.Oldest(); pair != nil; pair = pair.Next() {
		if _, err := bw.Write(encode(pair.Value.Values, dtype)); err != nil {
			return fmt.Errorf("failed to write %s: %w", pair.Key, err)
		}
	}
	return bw.Flush()
}

func safetensorsDType(d device.DType) (string, error) {
	switch d {
	case device.Float32:
		return dtypeF32, nil
	case device.Float16:
		return dtypeF16, nil
	case device.BFloat16:
		return dtypeBF16, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, d)
	}
}

func encode(values []float32, dtype device.DType) []byte {
	switch dtype {
	case device.Float16:
		return device.EncodeFloat16(values)
	case device.BFloat16:
		return device.EncodeBFloat16(values)
	default:
		out := make([]byte, 4*len(values))
		for i, v := range values {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out
	}
}
