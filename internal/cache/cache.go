package cache

// EmbeddingCache stores flattened hidden states keyed by prompt.
type EmbeddingCache interface {
	// Get retrieves a copy of a cached embedding.
	Get(key string) ([]float32, bool)
	// Put stores a copy of an embedding.
	Put(key string, vec []float32)
	// Len returns the number of cached entries.
	Len() int
}

// Key builds the cache key of a prompt for one encoder preset.
func Key(preset, prompt string) string {
	return preset + "\x00" + prompt
}

// PromptCache is an in-memory LRU of prompt embeddings. A capacity of zero
// or less means unbounded.
type PromptCache struct {
	lru *LRU[[]float32]
}

func NewPromptCache(capacity int) *PromptCache {
	return &PromptCache{lru: NewLRU[[]float32](capacity)}
}

func (c *PromptCache) Get(key string) ([]float32, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		cacheMisses.Inc()
		return nil, false
	}
	cacheHits.Inc()

	// Return copy to avoid modification of cached value
	dst := make([]float32, len(v))
	copy(dst, v)
	return dst, true
}

func (c *PromptCache) Put(key string, vec []float32) {
	dst := make([]float32, len(vec))
	copy(dst, vec)
	if n := c.lru.Put(key, dst); n > 0 {
		cacheEvictions.Add(float64(n))
	}
	cacheEntries.Set(float64(c.lru.Len()))
}

func (c *PromptCache) Len() int {
	return c.lru.Len()
}
