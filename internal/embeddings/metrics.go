package embeddings

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	throughput = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clip_encoder_throughput",
		Help: "Encoder throughput of the last batch in sequences per second",
	}, []string{"device"})

	batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clip_encoder_batch_duration_seconds",
		Help:    "Time spent encoding one internal batch",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"device"})

	sequencesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clip_encoder_sequences_total",
		Help: "Total number of prompts encoded",
	}, []string{"device"})

	tokensProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clip_encoder_tokens_total",
		Help: "Total number of token positions encoded, padding included",
	}, []string{"device"})

	tokenizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clip_tokenization_duration_seconds",
		Help:    "Time spent in tokenization",
		Buckets: prometheus.DefBuckets,
	})
)
