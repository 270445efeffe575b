package model

import (
	"fmt"

	"github.com/23skdu/fletcher-clip/internal/device"
)

// Activation selects the nonlinearity inside every FeedForward block.
type Activation int

const (
	// ActivationGELU is the exact erf-based GeLU.
	ActivationGELU Activation = iota
	// ActivationQuickGELU is x * sigmoid(1.702 * x).
	ActivationQuickGELU
)

func (a Activation) String() string {
	switch a {
	case ActivationGELU:
		return "gelu"
	case ActivationQuickGELU:
		return "quick_gelu"
	default:
		return fmt.Sprintf("Activation(%d)", int(a))
	}
}

func (a Activation) deviceType() device.ActivationType {
	if a == ActivationQuickGELU {
		return device.ActivationQuickGELU
	}
	return device.ActivationGELU
}

// Config holds the hyperparameters of a CLIP text encoder.
type Config struct {
	Name              string
	EmbeddingDim      int
	MaxSequenceLength int
	VocabularySize    int
	NumLayers         int
	NumAttentionHeads int
	FeedforwardDim    int
	LayerNormEps      float32
	UseQuickGELU      bool

	// PadTokenID is the ID the matching tokenizer pads sequences with.
	PadTokenID int
}

// Activation returns the FeedForward nonlinearity selected by UseQuickGELU.
func (c Config) Activation() Activation {
	if c.UseQuickGELU {
		return ActivationQuickGELU
	}
	return ActivationGELU
}

// HeadDim is the per-head width of the attention projections.
func (c Config) HeadDim() int {
	return c.EmbeddingDim / c.NumAttentionHeads
}

// Validate checks that the config describes a buildable encoder.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"embedding_dim", c.EmbeddingDim},
		{"max_sequence_length", c.MaxSequenceLength},
		{"vocabulary_size", c.VocabularySize},
		{"num_layers", c.NumLayers},
		{"num_attention_heads", c.NumAttentionHeads},
		{"feedforward_dim", c.FeedforwardDim},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.name, p.value)
		}
	}
	if c.EmbeddingDim%c.NumAttentionHeads != 0 {
		return fmt.Errorf("%w: embedding_dim %d is not divisible by num_attention_heads %d",
			ErrInvalidConfig, c.EmbeddingDim, c.NumAttentionHeads)
	}
	if c.LayerNormEps <= 0 {
		return fmt.Errorf("%w: layer_norm_eps must be positive, got %g", ErrInvalidConfig, c.LayerNormEps)
	}
	if c.PadTokenID < 0 || c.PadTokenID >= c.VocabularySize {
		return fmt.Errorf("%w: pad_token_id %d outside vocabulary of %d", ErrInvalidConfig, c.PadTokenID, c.VocabularySize)
	}
	return nil
}
