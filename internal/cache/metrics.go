package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clip_prompt_cache_hits_total",
		Help: "Prompt embeddings served from cache",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clip_prompt_cache_misses_total",
		Help: "Prompt embedding cache lookups that missed",
	})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clip_prompt_cache_evictions_total",
		Help: "Prompt embeddings evicted to stay within capacity",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clip_prompt_cache_entries",
		Help: "Number of cached prompt embeddings",
	})
)
