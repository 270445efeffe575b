package device

import (
	"fmt"
	"math"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType is the storage precision of parameter tensors. Compute is always float32;
// reduced precisions round stored values so a model placed on them behaves like
// one loaded at that precision.
type DType int

const (
	Float32 DType = iota
	Float16
	BFloat16
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "fp32"
	case Float16:
		return "fp16"
	case BFloat16:
		return "bf16"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Size returns the number of bytes one element occupies when serialized.
func (d DType) Size() int {
	if d == Float32 {
		return 4
	}
	return 2
}

// ParseDType accepts the short and long spellings of the supported precisions.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(s) {
	case "", "fp32", "float32", "f32":
		return Float32, nil
	case "fp16", "float16", "f16", "half":
		return Float16, nil
	case "bf16", "bfloat16":
		return BFloat16, nil
	default:
		return Float32, fmt.Errorf("unknown dtype %q", s)
	}
}

// Round rounds data in-place to the nearest value representable in d, ties
// to even.
func (d DType) Round(data []float32) {
	switch d {
	case Float16:
		for i, v := range data {
			data[i] = float16.Fromfloat32(v).Float32()
		}
	case BFloat16:
		copy(data, bfloat16.DecodeFloat32(EncodeBFloat16(data)))
	}
}

// bfloat16Bias adds the round-to-nearest-even bias so that dropping the low
// 16 bits, as go-bfloat16 does, rounds instead of truncating. NaNs are kept.
func bfloat16Bias(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return v
	}
	bits := math.Float32bits(v)
	bits += 0x7fff + (bits>>16)&1
	return math.Float32frombits(bits)
}

// DecodeFloat16 converts little-endian IEEE binary16 bytes to float32.
func DecodeFloat16(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		bits := uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
		out[i] = float16.Frombits(bits).Float32()
	}
	return out
}

// EncodeFloat16 converts float32 values to little-endian IEEE binary16 bytes.
func EncodeFloat16(data []float32) []byte {
	out := make([]byte, 2*len(data))
	for i, v := range data {
		bits := float16.Fromfloat32(v).Bits()
		out[2*i] = byte(bits)
		out[2*i+1] = byte(bits >> 8)
	}
	return out
}

// DecodeBFloat16 converts little-endian bfloat16 bytes to float32.
func DecodeBFloat16(raw []byte) []float32 {
	return bfloat16.DecodeFloat32(raw)
}

// EncodeBFloat16 converts float32 values to little-endian bfloat16 bytes,
// rounding to nearest even.
func EncodeBFloat16(data []float32) []byte {
	biased := make([]float32, len(data))
	for i, v := range data {
		biased[i] = bfloat16Bias(v)
	}
	return bfloat16.EncodeFloat32(biased)
}
