package model

import (
	"github.com/23skdu/fletcher-clip/internal/device"
)

// Linear is an affine projection. Weight is stored (out, in) like the
// checkpoints; Bias is a 1 x out row.
type Linear struct {
	In, Out int
	Weight  device.Tensor
	Bias    device.Tensor
}

func NewLinear(in, out int, backend device.Backend) *Linear {
	return &Linear{
		In:     in,
		Out:    out,
		Weight: backend.NewTensor(out, in, nil),
		Bias:   backend.NewTensor(1, out, nil),
	}
}

// Forward returns x * W^T + b in a pooled tensor.
func (l *Linear) Forward(x device.Tensor) device.Tensor {
	return l.Weight.Linear(x, l.Weight.T(), l.Bias)
}

// ForwardActivation fuses the projection with an activation.
func (l *Linear) ForwardActivation(x device.Tensor, activation device.ActivationType) device.Tensor {
	return l.Weight.LinearActivation(x, l.Weight.T(), l.Bias, activation)
}

// LayerNorm normalizes every token over the embedding dimension.
type LayerNorm struct {
	Weight device.Tensor
	Bias   device.Tensor
	Eps    float32

	backend device.Backend
}

func NewLayerNorm(size int, eps float32, backend device.Backend) *LayerNorm {
	ones := make([]float32, size)
	for i := range ones {
		ones[i] = 1
	}
	return &LayerNorm{
		Weight:  backend.NewTensor(1, size, ones),
		Bias:    backend.NewTensor(1, size, nil),
		Eps:     eps,
		backend: backend,
	}
}

// Forward returns a normalized copy of x; x itself is left untouched so it
// can feed the residual path.
func (l *LayerNorm) Forward(x device.Tensor) device.Tensor {
	r, c := x.Dims()
	out := l.backend.GetTensor(r, c)
	out.Copy(x)
	out.LayerNorm(l.Weight, l.Bias, l.Eps)
	return out
}
