package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"tenantrag/internal/domain"
)

// WithCache wraps e with an expiring LRU keyed by provider and text. A
// non-positive size or ttl disables caching.
func WithCache(e domain.Embedder, size int, ttl time.Duration) domain.Embedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &cachedEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type cachedEmbedder struct {
	next  domain.Embedder
	cache *expirable.LRU[string, []float32]
}

func (c *cachedEmbedder) Name() string   { return c.next.Name() }
func (c *cachedEmbedder) Dimension() int { return c.next.Dimension() }

func (c *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok := c.cache.Get(key); ok {
		return clone(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clone(v))
	return v, nil
}

// EmbedBatch only sends cache misses to the provider.
func (c *cachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var slots []int
	for i, text := range texts {
		if v, ok := c.cache.Get(c.key(text)); ok {
			out[i] = clone(v)
			continue
		}
		missing = append(missing, text)
		slots = append(slots, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vectors, err := c.next.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, domain.External(c.next.Name(), errCountMismatch)
	}
	for j, v := range vectors {
		out[slots[j]] = v
		c.cache.Add(c.key(missing[j]), clone(v))
	}
	return out, nil
}

func (c *cachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.next.Name() + ":" + hex.EncodeToString(sum[:])
}

func clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
