package evaluator

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"promptsynth/internal/genome"
)

// Mock is a simulated evaluator for development and testing. It produces
// plausible scores without API calls: a random base plus bonuses for a
// balanced temperature and fragment diversity.
type Mock struct {
	mu    sync.Mutex
	rng   *rand.Rand
	count atomic.Int64
}

// NewMock creates a mock evaluator. A nil rng gets a time-seeded source;
// tests inject a fixed seed.
func NewMock(rng *rand.Rand) *Mock {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Mock{rng: rng}
}

// Evaluate scores the genome: base uniform in [5, 8], +1.0 for a
// temperature balancing exploration and exploitation, +0.5 for carrying at
// least two distinct fragments.
func (m *Mock) Evaluate(_ context.Context, g *genome.Genome, _ string) (float64, error) {
	m.count.Add(1)

	m.mu.Lock()
	score := 5.0 + m.rng.Float64()*3.0
	m.mu.Unlock()

	if g.Temperature > 0.5 && g.Temperature < 0.8 {
		score += 1.0
	}

	distinct := make(map[int]struct{}, len(g.Fragments))
	for _, f := range g.Fragments {
		distinct[f] = struct{}{}
	}
	if len(distinct) >= 2 {
		score += 0.5
	}

	return clampScore(score), nil
}

// Stats reports evaluation counters.
func (m *Mock) Stats() Stats {
	return Stats{Evaluations: int(m.count.Load()), Mode: "mock"}
}
