package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/fletcher-clip/internal/client"
	"github.com/23skdu/fletcher-clip/internal/embeddings"
	"github.com/23skdu/fletcher-clip/internal/embeddings/model"
)

var (
	vectorsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cliptext_prompts_processed_total",
		Help: "The total number of prompts encoded by the server",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cliptext_request_duration_seconds",
		Help:    "Time spent processing encode requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
)

var tracer = otel.Tracer("cliptext-server")

// Embedder is the part of embeddings.Embedder the servers depend on.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]embeddings.Embedding, error)
	Unconditional(ctx context.Context) (embeddings.Embedding, error)
}

// encodeResponse is the CBOR body returned by /encode and /unconditional.
type encodeResponse struct {
	Preset         string      `cbor:"preset"`
	SequenceLength int         `cbor:"sequence_length"`
	EmbeddingDim   int         `cbor:"embedding_dim"`
	Texts          []string    `cbor:"texts"`
	Embeddings     [][]float32 `cbor:"embeddings"`
}

// maxRequestBytes caps request bodies on the encode endpoints.
const maxRequestBytes = 32 << 20

type Server struct {
	embedder     Embedder
	forwarder    *client.Forwarder
	preset       string
	alloc        memory.Allocator
	sem          *semaphore.Weighted
	maxBodyBytes int64
}

// NewServer builds the HTTP front end. forwarder may be nil; when set, every
// encoded batch is also shipped to its dataset.
func NewServer(embedder Embedder, forwarder *client.Forwarder, preset string, maxConcurrent int) *Server {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Server{
		embedder:     embedder,
		forwarder:    forwarder,
		preset:       preset,
		alloc:        memory.NewGoAllocator(),
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		maxBodyBytes: maxRequestBytes,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/encode", s.handleEncode)
	mux.HandleFunc("/encode/arrow", s.handleEncodeArrow)
	mux.HandleFunc("/unconditional", s.handleUnconditional)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncode")
	defer span.End()
	defer observe("encode", time.Now())

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var texts []string
	if err := cbor.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&texts); err != nil {
		span.RecordError(err)
		if tooLarge(err) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", len(texts)))

	embs, err := s.encode(ctx, texts)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	resp := encodeResponse{Preset: s.preset, Texts: make([]string, len(embs)), Embeddings: make([][]float32, len(embs))}
	for i, e := range embs {
		resp.SequenceLength, resp.EmbeddingDim = e.SeqLen, e.Dim
		resp.Texts[i] = e.Text
		resp.Embeddings[i] = e.Values
	}
	writeCBOR(w, resp)
}

func (s *Server) handleEncodeArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncodeArrow")
	defer span.End()
	defer observe("encode_arrow", time.Now())

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := ipc.NewReader(http.MaxBytesReader(w, r.Body, s.maxBodyBytes), ipc.WithAllocator(s.alloc))
	if err != nil {
		if tooLarge(err) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
	}
	defer reader.Release()

	var texts []string
	for reader.Next() {
		batch, err := client.ReadTexts(reader.Record())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		texts = append(texts, batch...)
	}
	if err := reader.Err(); err != nil {
		log.Error().Err(err).Msg("Error reading Arrow stream")
		if tooLarge(err) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Stream error", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("sequence_count", len(texts)))

	embs, err := s.encode(ctx, texts)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	rec, err := client.NewRecordBatchBuilder(s.alloc).BuildRecordBatch(s.preset, embs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer rec.Release()

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	if err := writeArrowStream(w, rec); err != nil {
		log.Error().Err(err).Msg("Failed to write Arrow response")
	}
}

func (s *Server) handleUnconditional(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleUnconditional")
	defer span.End()
	defer observe("unconditional", time.Now())

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	emb, err := s.embedder.Unconditional(ctx)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeCBOR(w, encodeResponse{
		Preset:         s.preset,
		SequenceLength: emb.SeqLen,
		EmbeddingDim:   emb.Dim,
		Texts:          []string{emb.Text},
		Embeddings:     [][]float32{emb.Values},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// encode runs texts through the embedder under admission control and
// forwards the result when a forwarder is configured.
func (s *Server) encode(ctx context.Context, texts []string) ([]embeddings.Embedding, error) {
	if len(texts) == 0 {
		return nil, model.ErrEmptyBatch
	}

	if !s.sem.TryAcquire(1) {
		return nil, errServerBusy
	}
	defer s.sem.Release(1)

	embs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		log.Error().Err(err).Int("count", len(texts)).Msg("Inference failed")
		return nil, err
	}
	vectorsProcessed.Add(float64(len(embs)))

	if s.forwarder != nil {
		// Forwarding failures are logged by the forwarder and do not fail the request.
		_ = s.forwarder.Forward(ctx, embs)
	}
	return embs, nil
}

var errServerBusy = errors.New("server busy")

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errServerBusy):
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
	case errors.Is(err, model.ErrEmptyBatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func writeCBOR(w http.ResponseWriter, v any) {
	data, err := cbor.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func observe(handler string, start time.Time) {
	requestDuration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
}
