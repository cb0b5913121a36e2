package evaluator

import (
	"context"
	"sync"
	"sync/atomic"

	"promptsynth/internal/genome"
)

// Cached memoizes scores of an inner evaluator by genome key and task.
// Genomes with equal sorted fragments and temperature score once, which
// matters when survivors persist across generations against a paid API.
type Cached struct {
	inner Evaluator

	mu    sync.RWMutex
	cache map[string]float64

	hits atomic.Int64
}

// NewCached wraps an evaluator with a score cache.
func NewCached(inner Evaluator) *Cached {
	return &Cached{inner: inner, cache: make(map[string]float64)}
}

// Evaluate returns the cached score when available, otherwise delegates and
// stores the result.
func (c *Cached) Evaluate(ctx context.Context, g *genome.Genome, task string) (float64, error) {
	key := g.Key() + "|" + task

	c.mu.RLock()
	score, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return score, nil
	}

	score, err := c.inner.Evaluate(ctx, g, task)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cache[key] = score
	c.mu.Unlock()
	return score, nil
}

// Stats reports the inner evaluator's counters plus cache hits.
func (c *Cached) Stats() Stats {
	s := c.inner.Stats()
	s.CacheHits = int(c.hits.Load())
	return s
}

// Len returns the number of cached scores.
func (c *Cached) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
