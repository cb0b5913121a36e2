// Package evaluator measures how well a genome solves a given task.
// Fitness scores are floats in [0, 10]. The mock scorer supports offline
// development; the Gemini and semantic scorers call the real API.
package evaluator

import (
	"context"
	"fmt"

	"promptsynth/internal/genome"
	"promptsynth/internal/logging"

	"golang.org/x/sync/errgroup"
)

// MaxScore is the upper fitness bound.
const MaxScore = 10.0

// Evaluator scores genomes against a task.
type Evaluator interface {
	// Evaluate returns the fitness of g for the task, in [0, MaxScore].
	Evaluate(ctx context.Context, g *genome.Genome, task string) (float64, error)
	// Stats reports evaluation counters.
	Stats() Stats
}

// Stats holds evaluation counters for debugging and run summaries.
type Stats struct {
	Evaluations int    `json:"evaluations"`
	CacheHits   int    `json:"cache_hits,omitempty"`
	Mode        string `json:"mode"`
}

// defaultParallelism bounds concurrent API calls per population.
const defaultParallelism = 4

// EvaluatePopulation scores every individual concurrently. Results keep
// population order. A single failure cancels the remaining evaluations.
func EvaluatePopulation(ctx context.Context, ev Evaluator, population []*genome.Genome, task string) ([]float64, error) {
	return EvaluatePopulationN(ctx, ev, population, task, defaultParallelism)
}

// EvaluatePopulationN is EvaluatePopulation with an explicit parallelism
// limit.
func EvaluatePopulationN(ctx context.Context, ev Evaluator, population []*genome.Genome, task string, parallelism int) ([]float64, error) {
	if parallelism < 1 {
		parallelism = 1
	}

	timer := logging.StartTimer(logging.CategoryEvaluator, "EvaluatePopulation")
	defer timer.Stop()

	scores := make([]float64, len(population))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, ind := range population {
		g.Go(func() error {
			score, err := ev.Evaluate(ctx, ind, task)
			if err != nil {
				return fmt.Errorf("individual %d: %w", i, err)
			}
			scores[i] = score
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("population evaluation failed: %w", err)
	}
	return scores, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
