package model

import (
	"math"

	"github.com/23skdu/fletcher-clip/internal/device"
)

// SelfAttention is causal multi-head self-attention with separate q/k/v
// projections and an output projection.
type SelfAttention struct {
	NumHeads int
	HeadDim  int

	Query *Linear
	Key   *Linear
	Value *Linear
	Out   *Linear

	backend device.Backend
}

func NewSelfAttention(embeddingDim, numHeads int, backend device.Backend) *SelfAttention {
	return &SelfAttention{
		NumHeads: numHeads,
		HeadDim:  embeddingDim / numHeads,
		Query:    NewLinear(embeddingDim, embeddingDim, backend),
		Key:      NewLinear(embeddingDim, embeddingDim, backend),
		Value:    NewLinear(embeddingDim, embeddingDim, backend),
		Out:      NewLinear(embeddingDim, embeddingDim, backend),
		backend:  backend,
	}
}

// Forward attends every position to itself and earlier positions of the
// same sequence.
func (s *SelfAttention) Forward(x Hidden) device.Tensor {
	q := s.Query.Forward(x.Tensor)
	k := s.Key.Forward(x.Tensor)
	v := s.Value.Forward(x.Tensor)

	scale := float32(1.0 / math.Sqrt(float64(s.HeadDim)))
	context := q.Attention(q, k, v, x.Batch, x.SeqLen, s.NumHeads, scale, true)

	s.backend.PutTensor(q)
	s.backend.PutTensor(k)
	s.backend.PutTensor(v)

	out := s.Out.Forward(context)
	s.backend.PutTensor(context)
	return out
}
