package evaluator

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"promptsynth/internal/genome"
	"promptsynth/internal/pool"
)

const testReference = "write a clear, well-structured answer"

func newStubSemantic(embed func(ctx context.Context, text string) ([]float32, error)) *Semantic {
	s := &Semantic{
		pool:      pool.Default(),
		reference: testReference,
	}
	s.embed = embed
	return s
}

func TestSemantic_ReferenceEmbeddedOnce(t *testing.T) {
	var refCalls atomic.Int64
	s := newStubSemantic(func(ctx context.Context, text string) ([]float32, error) {
		if text == testReference {
			refCalls.Add(1)
			// widen the window for a second caller to slip in
			time.Sleep(10 * time.Millisecond)
		}
		return []float32{1, 0.5, 0.25}, nil
	})

	g := genome.Random(rand.New(rand.NewSource(7)), pool.Default())
	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Evaluate(context.Background(), g, "task"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("evaluate failed: %v", err)
	}

	if n := refCalls.Load(); n != 1 {
		t.Fatalf("reference embedded %d times, want 1", n)
	}
}

func TestSemantic_ReferenceRetriedAfterFailure(t *testing.T) {
	refCalls := 0
	s := newStubSemantic(func(ctx context.Context, text string) ([]float32, error) {
		if text == testReference {
			refCalls++
			if refCalls == 1 {
				return nil, errors.New("temporarily unavailable")
			}
		}
		return []float32{1, 0, 0}, nil
	})

	g := genome.Random(rand.New(rand.NewSource(8)), pool.Default())
	if _, err := s.Evaluate(context.Background(), g, "task"); err == nil {
		t.Fatal("expected first evaluation to fail")
	} else if !strings.Contains(err.Error(), "reference embedding failed") {
		t.Fatalf("unexpected error: %v", err)
	}

	score, err := s.Evaluate(context.Background(), g, "task")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	// identical vectors, cosine 1, top of the fitness range
	if score != MaxScore {
		t.Fatalf("score = %.3f, want %.0f", score, MaxScore)
	}
	if refCalls != 2 {
		t.Fatalf("reference embedded %d times, want 2", refCalls)
	}
}

func TestSemantic_ScoreScaling(t *testing.T) {
	// orthogonal embeddings: cosine 0 lands mid-range
	s := newStubSemantic(func(ctx context.Context, text string) ([]float32, error) {
		if text == testReference {
			return []float32{1, 0}, nil
		}
		return []float32{0, 1}, nil
	})

	g := genome.Random(rand.New(rand.NewSource(9)), pool.Default())
	score, err := s.Evaluate(context.Background(), g, "task")
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if score != MaxScore/2 {
		t.Fatalf("score = %.3f, want %.1f", score, MaxScore/2)
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("cosineSimilarity = %.6f, want %.6f", got, tt.want)
			}
		})
	}
}
