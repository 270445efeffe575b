package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forwardedRows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clip_forwarded_embeddings_total",
		Help: "Embeddings forwarded to the downstream dataset",
	})

	forwardFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clip_forward_failures_total",
		Help: "Failed or rejected forwarding attempts",
	})
)
