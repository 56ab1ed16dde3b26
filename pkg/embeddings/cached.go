package embeddings

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps a Client with an in-memory LRU so repeated queries
// (topology lookups re-embed the same query text constantly) skip the
// provider round trip.
type Cached struct {
	inner Client
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with a cache of the given size. Size <= 0
// defaults to 512 entries.
func NewCached(inner Client, size int) *Cached {
	if size <= 0 {
		size = 512
	}
	// Only errors on size < 1, which we just excluded.
	cache, _ := lru.New[string, []float32](size)
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.inner.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			vecs[i] = v
		} else {
			missing = append(missing, t)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missing) == 0 {
		return vecs, nil
	}

	fresh, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range fresh {
		vecs[missingIdx[j]] = v
		c.cache.Add(missing[j], v)
	}
	return vecs, nil
}
