package model

import (
	"time"

	"github.com/23skdu/fletcher-clip/internal/device"
)

// TransformerLayer is a pre-norm encoder block:
//
//	x = x + Attention(LayerNorm1(x))
//	x = x + FeedForward(LayerNorm2(x))
type TransformerLayer struct {
	LayerNorm1    *LayerNorm
	SelfAttention *SelfAttention
	LayerNorm2    *LayerNorm
	FeedForward   *FeedForward

	backend device.Backend
}

func NewTransformerLayer(cfg Config, backend device.Backend) *TransformerLayer {
	return &TransformerLayer{
		LayerNorm1:    NewLayerNorm(cfg.EmbeddingDim, cfg.LayerNormEps, backend),
		SelfAttention: NewSelfAttention(cfg.EmbeddingDim, cfg.NumAttentionHeads, backend),
		LayerNorm2:    NewLayerNorm(cfg.EmbeddingDim, cfg.LayerNormEps, backend),
		FeedForward:   NewFeedForward(cfg.EmbeddingDim, cfg.FeedforwardDim, cfg.Activation(), backend),
		backend:       backend,
	}
}

// AttentionBlock returns x + Attention(LayerNorm1(x)) without modifying x.
func (l *TransformerLayer) AttentionBlock(x Hidden) Hidden {
	start := time.Now()
	defer func() {
		LayerDuration.WithLabelValues("attention", l.backend.Name()).Observe(time.Since(start).Seconds())
	}()

	normed := l.LayerNorm1.Forward(x.Tensor)
	out := l.SelfAttention.Forward(x.with(normed))
	l.backend.PutTensor(normed)

	out.Add(x.Tensor)
	return x.with(out)
}

// FeedForwardBlock returns x + FeedForward(LayerNorm2(x)) without modifying x.
func (l *TransformerLayer) FeedForwardBlock(x Hidden) Hidden {
	start := time.Now()
	defer func() {
		LayerDuration.WithLabelValues("feedforward", l.backend.Name()).Observe(time.Since(start).Seconds())
	}()

	normed := l.LayerNorm2.Forward(x.Tensor)
	out := l.FeedForward.Forward(normed)
	l.backend.PutTensor(normed)

	out.Add(x.Tensor)
	return x.with(out)
}

// Forward applies both residual blocks. The input is left untouched.
func (l *TransformerLayer) Forward(x Hidden) Hidden {
	mid := l.AttentionBlock(x)
	out := l.FeedForwardBlock(mid)
	l.backend.PutTensor(mid.Tensor)
	return out
}
