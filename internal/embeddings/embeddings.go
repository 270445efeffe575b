package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/fletcher-clip/internal/cache"
	"github.com/23skdu/fletcher-clip/internal/device"
	"github.com/23skdu/fletcher-clip/internal/embeddings/model"
	"github.com/23skdu/fletcher-clip/internal/embeddings/tokenizer"
	"github.com/23skdu/fletcher-clip/internal/embeddings/weights"
)

var tracer = otel.Tracer("github.com/23skdu/fletcher-clip/internal/embeddings")

const defaultBatchSize = 8

// Embedding holds the hidden states of one prompt, (SeqLen, Dim) row-major.
type Embedding struct {
	Text   string
	SeqLen int
	Dim    int
	Values []float32
}

// Config describes how to build an Embedder from files on disk.
type Config struct {
	Preset      string
	VocabPath   string
	MergesPath  string
	WeightsPath string
	Precision   string // fp32 (default), fp16 or bf16
	Seed        int64
	BatchSize   int
	CacheSize   int // zero disables the prompt cache
}

// Embedder manages tokenization, batching and encoder inference.
// It is safe for concurrent use.
type Embedder struct {
	encoder           *model.CLIPTextEncoder
	tokenizer         tokenizer.Tokenizer
	cache             cache.EmbeddingCache
	internalBatchSize int
}

// Option configures NewEmbedder.
type Option func(*Embedder)

// WithCache enables prompt caching.
func WithCache(c cache.EmbeddingCache) Option {
	return func(e *Embedder) { e.cache = c }
}

// WithBatchSize caps how many prompts go through the encoder at once.
func WithBatchSize(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.internalBatchSize = n
		}
	}
}

// NewEmbedder wraps an encoder that already has a tokenizer attached.
func NewEmbedder(enc *model.CLIPTextEncoder, opts ...Option) (*Embedder, error) {
	if enc.Tokenizer == nil {
		return nil, model.ErrNoTokenizer
	}
	e := &Embedder{
		encoder:           enc,
		tokenizer:         enc.Tokenizer,
		internalBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// New loads the tokenizer, builds the encoder for cfg.Preset and loads its
// weights. Without a weights path the encoder keeps its seeded parameters.
func New(cfg Config) (*Embedder, error) {
	preset, err := model.PresetByName(cfg.Preset)
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.Load(cfg.VocabPath, cfg.MergesPath,
		tokenizer.WithSequenceLength(preset.MaxSequenceLength),
		tokenizer.WithPadTokenID(preset.PadTokenID))
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	dtype, err := device.ParseDType(cfg.Precision)
	if err != nil {
		return nil, err
	}
	backend := device.NewCPUBackendWithDType(dtype)

	enc, err := model.NewCLIPTextEncoder(preset,
		model.WithBackend(backend),
		model.WithTokenizer(tok),
		model.WithSeed(cfg.Seed))
	if err != nil {
		return nil, err
	}

	if cfg.WeightsPath != "" {
		if err := weights.LoadSafetensors(cfg.WeightsPath, enc); err != nil {
			return nil, fmt.Errorf("failed to load weights: %w", err)
		}
	} else {
		log.Warn().Str("preset", preset.Name).Msg("No weights file given, using seeded initialization")
	}

	opts := []Option{WithBatchSize(cfg.BatchSize)}
	if cfg.CacheSize > 0 {
		opts = append(opts, WithCache(cache.NewPromptCache(cfg.CacheSize)))
	}

	log.Info().
		Str("preset", preset.Name).
		Stringer("precision", dtype).
		Int("parameters", enc.ParameterCount()).
		Msg("Initialized embedder")
	return NewEmbedder(enc, opts...)
}

// Encoder returns the wrapped encoder.
func (e *Embedder) Encoder() *model.CLIPTextEncoder {
	return e.encoder
}

// Embed returns one Embedding per text, in input order. Texts are encoded in
// chunks; the context is checked before every chunk.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	ctx, span := tracer.Start(ctx, "Embedder.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(texts)))

	if len(texts) == 0 {
		return nil, model.ErrEmptyBatch
	}

	cfg := e.encoder.Config
	results := make([]Embedding, len(texts))

	// Resolve cache hits and collect the distinct prompts left to encode.
	pending := make(map[string][]int)
	var order []string
	for i, text := range texts {
		if e.cache != nil {
			if vec, ok := e.cache.Get(cache.Key(cfg.Name, text)); ok {
				results[i] = e.embedding(text, vec)
				continue
			}
		}
		if _, seen := pending[text]; !seen {
			order = append(order, text)
		}
		pending[text] = append(pending[text], i)
	}
	span.SetAttributes(attribute.Int("cache_misses", len(order)))

	for start := 0; start < len(order); start += e.internalBatchSize {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, fmt.Errorf("embedding cancelled after %d of %d prompts: %w", start, len(order), err)
		}

		end := min(start+e.internalBatchSize, len(order))
		chunk := order[start:end]
		hidden, err := e.encodeChunk(ctx, chunk)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "encoding failed")
			return nil, err
		}

		seqs := hidden.Sequences()
		e.encoder.Backend.PutTensor(hidden.Tensor)
		for b, text := range chunk {
			vec := seqs[b]
			if e.cache != nil {
				e.cache.Put(cache.Key(cfg.Name, text), vec)
			}
			for _, idx := range pending[text] {
				results[idx] = e.embedding(text, vec)
			}
		}
	}
	return results, nil
}

func (e *Embedder) encodeChunk(ctx context.Context, chunk []string) (model.Hidden, error) {
	start := time.Now()
	ids, err := e.tokenizer.Encode(chunk...)
	tokenizationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return model.Hidden{}, fmt.Errorf("failed to tokenize: %w", err)
	}

	tokens := 0
	for _, seq := range ids {
		tokens += len(seq)
	}

	start = time.Now()
	hidden, err := e.encoder.EncodeIDs(ctx, ids)
	if err != nil {
		return model.Hidden{}, err
	}
	elapsed := time.Since(start).Seconds()

	backend := e.encoder.Backend.Name()
	batchDuration.WithLabelValues(backend).Observe(elapsed)
	sequencesProcessed.WithLabelValues(backend).Add(float64(len(chunk)))
	tokensProcessed.WithLabelValues(backend).Add(float64(tokens))
	if elapsed > 0 {
		throughput.WithLabelValues(backend).Set(float64(len(chunk)) / elapsed)
	}
	return hidden, nil
}

func (e *Embedder) embedding(text string, vec []float32) Embedding {
	cfg := e.encoder.Config
	out := make([]float32, len(vec))
	copy(out, vec)
	return Embedding{
		Text:   text,
		SeqLen: len(vec) / cfg.EmbeddingDim,
		Dim:    cfg.EmbeddingDim,
		Values: out,
	}
}

// Unconditional returns the empty-prompt embedding used as negative
// conditioning.
func (e *Embedder) Unconditional(ctx context.Context) (Embedding, error) {
	out, err := e.Embed(ctx, []string{""})
	if err != nil {
		return Embedding{}, err
	}
	return out[0], nil
}
