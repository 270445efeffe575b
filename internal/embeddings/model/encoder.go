package model

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/fletcher-clip/internal/device"
	"github.com/23skdu/fletcher-clip/internal/embeddings/tokenizer"
)

var tracer = otel.Tracer("github.com/23skdu/fletcher-clip/internal/embeddings/model")

// CLIPTextEncoder turns text into per-token hidden states of shape
// (batch, sequence length, embedding dim).
type CLIPTextEncoder struct {
	Config            Config
	Backend           device.Backend
	Tokenizer         tokenizer.Tokenizer
	TokenEncoder      *TokenEncoder
	PositionalEncoder *PositionalEncoder
	Layers            []*TransformerLayer
	FinalLayerNorm    *LayerNorm
}

type options struct {
	backend   device.Backend
	tokenizer tokenizer.Tokenizer
	seed      int64
}

// Option configures NewCLIPTextEncoder.
type Option func(*options)

// WithBackend places parameters and compute on backend (default: float32 CPU).
func WithBackend(b device.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithTokenizer sets the tokenizer used by Encode.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(o *options) { o.tokenizer = t }
}

// WithSeed sets the seed of the initial parameter values.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// NewCLIPTextEncoder validates cfg and builds an encoder with deterministic
// initial parameters. Load a checkpoint to get meaningful embeddings.
func NewCLIPTextEncoder(cfg Config, opts ...Option) (*CLIPTextEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil {
		o.backend = device.NewCPUBackend()
	}
	if o.tokenizer != nil {
		if n := o.tokenizer.SequenceLength(); n > cfg.MaxSequenceLength {
			return nil, fmt.Errorf("%w: tokenizer sequence length %d exceeds max_sequence_length %d",
				ErrInvalidConfig, n, cfg.MaxSequenceLength)
		}
		if pad := o.tokenizer.PadTokenID(); pad != cfg.PadTokenID {
			log.Warn().Str("preset", cfg.Name).Int("tokenizer_pad", pad).Int("config_pad", cfg.PadTokenID).
				Msg("Tokenizer pad token differs from encoder config")
		}
	}

	layers := make([]*TransformerLayer, cfg.NumLayers)
	for i := range layers {
		layers[i] = NewTransformerLayer(cfg, o.backend)
	}

	enc := &CLIPTextEncoder{
		Config:            cfg,
		Backend:           o.backend,
		Tokenizer:         o.tokenizer,
		TokenEncoder:      NewTokenEncoder(cfg.VocabularySize, cfg.EmbeddingDim, o.backend),
		PositionalEncoder: NewPositionalEncoder(cfg.MaxSequenceLength, cfg.EmbeddingDim, o.backend),
		Layers:            layers,
		FinalLayerNorm:    NewLayerNorm(cfg.EmbeddingDim, cfg.LayerNormEps, o.backend),
	}
	enc.Init(o.seed)

	log.Debug().
		Str("preset", cfg.Name).
		Str("backend", o.backend.Name()).
		Stringer("dtype", o.backend.DType()).
		Stringer("activation", cfg.Activation()).
		Int("layers", cfg.NumLayers).
		Msg("Built CLIP text encoder")
	return enc, nil
}

// Encode tokenizes texts and runs them through the encoder.
func (e *CLIPTextEncoder) Encode(ctx context.Context, texts ...string) (Hidden, error) {
	ctx, span := tracer.Start(ctx, "CLIPTextEncoder.Encode")
	defer span.End()
	span.SetAttributes(
		attribute.String("preset", e.Config.Name),
		attribute.Int("batch_size", len(texts)),
	)

	if e.Tokenizer == nil {
		return Hidden{}, ErrNoTokenizer
	}
	if len(texts) == 0 {
		return Hidden{}, ErrEmptyBatch
	}

	ids, err := e.Tokenizer.Encode(texts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tokenization failed")
		return Hidden{}, fmt.Errorf("failed to tokenize: %w", err)
	}

	out, err := e.EncodeIDs(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encoding failed")
		return Hidden{}, err
	}
	return out, nil
}

// EncodeIDs runs pre-tokenized, equal-length sequences through the encoder.
// The context is checked between layers.
func (e *CLIPTextEncoder) EncodeIDs(ctx context.Context, ids [][]int) (Hidden, error) {
	x, err := e.embed(ids)
	if err != nil {
		return Hidden{}, err
	}

	for i, layer := range e.Layers {
		if err := ctx.Err(); err != nil {
			e.Backend.PutTensor(x.Tensor)
			return Hidden{}, fmt.Errorf("encoding cancelled before layer %d: %w", i, err)
		}
		next := layer.Forward(x)
		e.Backend.PutTensor(x.Tensor)
		x = next
	}

	out := x.with(e.FinalLayerNorm.Forward(x.Tensor))
	e.Backend.PutTensor(x.Tensor)
	e.Backend.Synchronize()

	SequencesEncoded.WithLabelValues(e.Config.Name).Add(float64(x.Batch))
	return out, nil
}

// embed sums token and positional embeddings.
func (e *CLIPTextEncoder) embed(ids [][]int) (Hidden, error) {
	start := time.Now()
	defer func() {
		LayerDuration.WithLabelValues("embeddings", e.Backend.Name()).Observe(time.Since(start).Seconds())
	}()

	if len(ids) == 0 {
		return Hidden{}, ErrEmptyBatch
	}
	if n := len(ids[0]); n > e.Config.MaxSequenceLength {
		return Hidden{}, fmt.Errorf("%w: %d tokens, maximum is %d", ErrSequenceTooLong, n, e.Config.MaxSequenceLength)
	}

	tokens, err := e.TokenEncoder.Forward(ids)
	if err != nil {
		return Hidden{}, err
	}
	positions, err := e.PositionalEncoder.Forward(tokens.Batch, tokens.SeqLen)
	if err != nil {
		return Hidden{}, err
	}
	tokens.Tensor.Add(positions.Tensor)
	e.Backend.PutTensor(positions.Tensor)
	return tokens, nil
}

// UnconditionalTextEmbedding encodes the empty prompt, the negative
// conditioning for classifier-free guidance.
func (e *CLIPTextEncoder) UnconditionalTextEmbedding(ctx context.Context) (Hidden, error) {
	return e.Encode(ctx, "")
}
