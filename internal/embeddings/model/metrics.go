package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LayerDuration tracks time spent in specific encoder stages
	LayerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clip_layer_duration_seconds",
		Help:    "Time spent in specific text encoder stages",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
	}, []string{"layer_type", "device"})

	// SequencesEncoded counts sequences passed through the encoder
	SequencesEncoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clip_sequences_encoded_total",
		Help: "Total number of token sequences run through the text encoder",
	}, []string{"preset"})
)
