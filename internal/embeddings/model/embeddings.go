package model

import (
	"fmt"

	"github.com/23skdu/fletcher-clip/internal/device"
)

// TokenEncoder maps token IDs to learned vectors.
type TokenEncoder struct {
	VocabularySize int
	EmbeddingDim   int
	Weight         device.Tensor // (vocabulary, dim)
}

func NewTokenEncoder(vocabularySize, embeddingDim int, backend device.Backend) *TokenEncoder {
	return &TokenEncoder{
		VocabularySize: vocabularySize,
		EmbeddingDim:   embeddingDim,
		Weight:         backend.NewTensor(vocabularySize, embeddingDim, nil),
	}
}

// Forward looks up a batch of equal-length ID sequences.
func (e *TokenEncoder) Forward(ids [][]int) (Hidden, error) {
	if len(ids) == 0 {
		return Hidden{}, ErrEmptyBatch
	}
	seqLen := len(ids[0])
	flat := make([]int, 0, len(ids)*seqLen)
	for b, seq := range ids {
		if len(seq) != seqLen {
			return Hidden{}, fmt.Errorf("%w: sequence %d has %d tokens, sequence 0 has %d",
				ErrRaggedBatch, b, len(seq), seqLen)
		}
		for i, id := range seq {
			if id < 0 || id >= e.VocabularySize {
				return Hidden{}, fmt.Errorf("%w: token %d at [%d, %d] (vocabulary %d)",
					ErrTokenOutOfRange, id, b, i, e.VocabularySize)
			}
		}
		flat = append(flat, seq...)
	}
	return Hidden{Tensor: e.Weight.Gather(flat), Batch: len(ids), SeqLen: seqLen}, nil
}

// PositionalEncoder holds one learned vector per position. Its output depends
// only on the sequence length, never on token values.
type PositionalEncoder struct {
	MaxSequenceLength int
	EmbeddingDim      int
	Weight            device.Tensor // (max sequence length, dim)

	positionIDs []int
}

func NewPositionalEncoder(maxSequenceLength, embeddingDim int, backend device.Backend) *PositionalEncoder {
	ids := make([]int, maxSequenceLength)
	for i := range ids {
		ids[i] = i
	}
	return &PositionalEncoder{
		MaxSequenceLength: maxSequenceLength,
		EmbeddingDim:      embeddingDim,
		Weight:            backend.NewTensor(maxSequenceLength, embeddingDim, nil),
		positionIDs:       ids,
	}
}

// PositionIDs returns the precomputed 0..max-1 position sequence.
func (p *PositionalEncoder) PositionIDs() []int {
	out := make([]int, len(p.positionIDs))
	copy(out, p.positionIDs)
	return out
}

// Forward returns the first seqLen position vectors, repeated per batch entry.
func (p *PositionalEncoder) Forward(batch, seqLen int) (Hidden, error) {
	if batch <= 0 {
		return Hidden{}, ErrEmptyBatch
	}
	if seqLen > p.MaxSequenceLength {
		return Hidden{}, fmt.Errorf("%w: %d tokens, maximum is %d", ErrSequenceTooLong, seqLen, p.MaxSequenceLength)
	}
	indices := make([]int, 0, batch*seqLen)
	for b := 0; b < batch; b++ {
		indices = append(indices, p.positionIDs[:seqLen]...)
	}
	return Hidden{Tensor: p.Weight.Gather(indices), Batch: batch, SeqLen: seqLen}, nil
}
