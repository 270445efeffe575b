package model

import (
	"github.com/23skdu/fletcher-clip/internal/device"
)

// FeedForward is the per-token MLP: Linear(D->F), activation, Linear(F->D).
// The activation is fixed when the block is built.
type FeedForward struct {
	Activation Activation
	FC1        *Linear
	FC2        *Linear

	backend device.Backend
}

func NewFeedForward(embeddingDim, feedforwardDim int, activation Activation, backend device.Backend) *FeedForward {
	return &FeedForward{
		Activation: activation,
		FC1:        NewLinear(embeddingDim, feedforwardDim, backend),
		FC2:        NewLinear(feedforwardDim, embeddingDim, backend),
		backend:    backend,
	}
}

func (f *FeedForward) Forward(x device.Tensor) device.Tensor {
	inner := f.FC1.ForwardActivation(x, f.Activation.deviceType())
	out := f.FC2.Forward(inner)
	f.backend.PutTensor(inner)
	return out
}
