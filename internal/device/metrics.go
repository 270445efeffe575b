package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clip_cpu_pool_hits_total",
		Help: "Total number of intermediate tensors served from the CPU pool",
	})

	poolMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clip_cpu_pool_misses_total",
		Help: "Total number of CPU pool misses (allocations)",
	})
)
