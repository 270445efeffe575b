package device

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDType(t *testing.T) {
	tests := []struct {
		in   string
		want DType
	}{
		{"", Float32},
		{"fp32", Float32},
		{"float16", Float16},
		{"FP16", Float16},
		{"bf16", BFloat16},
		{"bfloat16", BFloat16},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDType(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := ParseDType("int8")
	require.Error(t, err)
}

func TestDType_Round(t *testing.T) {
	const v = float32(1.0009765625 + 1e-6) // just above 1 + 2^-10

	t.Run("Float32Unchanged", func(t *testing.T) {
		data := []float32{v}
		Float32.Round(data)
		require.Equal(t, v, data[0])
	})

	t.Run("Float16", func(t *testing.T) {
		data := []float32{v, 0.5, -2}
		Float16.Round(data)
		require.Equal(t, float32(1.0009765625), data[0])
		require.Equal(t, float32(0.5), data[1])
		require.Equal(t, float32(-2), data[2])
	})

	t.Run("BFloat16", func(t *testing.T) {
		data := []float32{v, 0.5, -2}
		BFloat16.Round(data)
		require.Equal(t, float32(1), data[0])
		require.Equal(t, float32(0.5), data[1])
		require.Equal(t, float32(-2), data[2])
	})

	t.Run("BFloat16NearestEven", func(t *testing.T) {
		data := []float32{
			1 + 3.0/512, // nearer to 1 + 2^-7 than to 1
			1 + 1.0/256, // tie, rounds to even 1
			1 + 3.0/256, // tie, rounds to even 1 + 2^-6
			-(1 + 3.0/512),
		}
		BFloat16.Round(data)
		require.Equal(t, []float32{1 + 1.0/128, 1, 1 + 1.0/64, -(1 + 1.0/128)}, data)

		nan := []float32{float32(math.NaN())}
		BFloat16.Round(nan)
		require.True(t, math.IsNaN(float64(nan[0])))
	})
}

func TestDType_Codecs(t *testing.T) {
	values := []float32{0, 1, -1.5, 0.25, 1024}

	require.Equal(t, values, DecodeFloat16(EncodeFloat16(values)))
	require.Equal(t, values, DecodeBFloat16(EncodeBFloat16(values)))
	require.Len(t, EncodeFloat16(values), 2*len(values))

	rounded := DecodeBFloat16(EncodeBFloat16([]float32{1 + 3.0/512}))
	require.Equal(t, []float32{1 + 1.0/128}, rounded)
}

func TestBackend_DTypePlacement(t *testing.T) {
	backend := NewCPUBackendWithDType(Float16)
	require.Equal(t, Float16, backend.DType())

	tensor := backend.NewTensor(1, 1, []float32{1.0009765625 + 1e-6})
	require.Equal(t, float32(1.0009765625), tensor.At(0, 0))
}
