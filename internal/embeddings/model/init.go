package model

import (
	"math"
	"math/rand"
	"strings"

	"github.com/23skdu/fletcher-clip/internal/device"
)

const embeddingInitStd = 0.02

// Init overwrites all parameters with values drawn from a generator seeded
// with seed. Two encoders with the same config and seed hold identical
// parameters.
//
// Embeddings get N(0, 0.02), projection weights Xavier-uniform, LayerNorm
// weights one and all biases zero.
func (e *CLIPTextEncoder) Init(seed int64) {
	rng := rand.New(rand.NewSource(seed))

	for pair := e.Parameters().Oldest(); pair != nil; pair = pair.Next() {
		name, t := pair.Key, pair.Value
		switch {
		case strings.Contains(name, "embeddings."):
			normalInit(rng, t, embeddingInitStd)
		case strings.Contains(name, "layer_norm") && strings.HasSuffix(name, ".weight"):
			fill(t, 1)
		case strings.HasSuffix(name, ".bias"):
			fill(t, 0)
		default:
			xavierInit(rng, t)
		}
	}
}

// xavierInit fills m with Xavier/Glorot uniform values in one bulk upload.
func xavierInit(rng *rand.Rand, m device.Tensor) {
	r, c := m.Dims()
	limit := math.Sqrt(6.0 / float64(r+c))

	data := make([]float32, r*c)
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	m.CopyFromFloat32(data)
}

func normalInit(rng *rand.Rand, m device.Tensor, std float64) {
	r, c := m.Dims()
	data := make([]float32, r*c)
	for i := range data {
		data[i] = float32(rng.NormFloat64() * std)
	}
	m.CopyFromFloat32(data)
}

func fill(m device.Tensor, v float32) {
	r, c := m.Dims()
	data := make([]float32, r*c)
	if v != 0 {
		for i := range data {
			data[i] = v
		}
	}
	m.CopyFromFloat32(data)
}
