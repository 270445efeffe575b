package client

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/fletcher-clip/internal/embeddings"
)

// Putter stores record batches in a named dataset.
type Putter interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
}

// Forwarder ships embedding batches to a dataset behind a circuit breaker.
type Forwarder struct {
	Dataset string
	Preset  string

	putter  Putter
	breaker *CircuitBreaker
	builder *RecordBatchBuilder
}

func NewForwarder(putter Putter, dataset, preset string, breaker *CircuitBreaker) *Forwarder {
	if breaker == nil {
		breaker = NewCircuitBreaker(5, 30*time.Second)
	}
	return &Forwarder{
		Dataset: dataset,
		Preset:  preset,
		putter:  putter,
		breaker: breaker,
		builder: NewRecordBatchBuilder(memory.NewGoAllocator()),
	}
}

// Forward converts embeddings to a record batch and puts it. It fails fast
// with ErrCircuitOpen while the downstream is considered unhealthy.
func (f *Forwarder) Forward(ctx context.Context, embs []embeddings.Embedding) error {
	rec, err := f.builder.BuildRecordBatch(f.Preset, embs)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	defer rec.Release()

	err = f.breaker.Execute(func() error {
		return f.putter.DoPut(ctx, f.Dataset, rec)
	})
	if err != nil {
		forwardFailures.Inc()
		log.Error().Err(err).Str("dataset", f.Dataset).Stringer("breaker", f.breaker.State()).
			Msg("Failed to forward embeddings")
		return fmt.Errorf("failed to forward %d embeddings: %w", len(embs), err)
	}
	forwardedRows.Add(float64(len(embs)))
	return nil
}
