package model

import (
	"github.com/23skdu/fletcher-clip/internal/device"
)

// Hidden is a batch of hidden states of shape (Batch, SeqLen, Dim), stored
// as a (Batch*SeqLen, Dim) tensor with sequences stacked row-wise.
type Hidden struct {
	Tensor device.Tensor
	Batch  int
	SeqLen int
}

// Dim is the embedding width.
func (h Hidden) Dim() int {
	_, c := h.Tensor.Dims()
	return c
}

// Shape returns (batch, sequence length, embedding dim).
func (h Hidden) Shape() (int, int, int) {
	return h.Batch, h.SeqLen, h.Dim()
}

// Values copies the hidden states to the host in (batch, seq, dim) order.
func (h Hidden) Values() []float32 {
	return h.Tensor.ToHost()
}

// Sequence copies the (SeqLen, Dim) states of batch entry b to the host.
func (h Hidden) Sequence(b int) []float32 {
	width := h.SeqLen * h.Dim()
	src := h.Tensor.Data()
	if src == nil {
		src = h.Tensor.ToHost()
	}
	out := make([]float32, width)
	copy(out, src[b*width:(b+1)*width])
	return out
}

// Sequences copies the hidden states to the host once and splits them into
// one (SeqLen, Dim) slice per batch entry.
func (h Hidden) Sequences() [][]float32 {
	all := h.Tensor.ToHost()
	width := h.SeqLen * h.Dim()
	out := make([][]float32, h.Batch)
	for b := range out {
		out[b] = all[b*width : (b+1)*width : (b+1)*width]
	}
	return out
}

func (h Hidden) with(t device.Tensor) Hidden {
	return Hidden{Tensor: t, Batch: h.Batch, SeqLen: h.SeqLen}
}
