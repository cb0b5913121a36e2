package evaluator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"promptsynth/internal/genome"
	"promptsynth/internal/logging"
	"promptsynth/internal/pool"

	"google.golang.org/genai"
)

// Semantic scores genomes by embedding similarity: the rendered prompt is
// embedded alongside a reference prompt for the task, and the cosine
// similarity is scaled to [0, 10]. Cheaper than the judge path since it
// needs one embedding call per genome and no generation.
type Semantic struct {
	client    *genai.Client
	model     string
	pool      *pool.Pool
	reference string

	// The reference is embedded once, on first use. The mutex keeps
	// concurrent first evaluations from each firing an embedding call.
	refMu  sync.Mutex
	refVec []float32

	// embed is swappable for tests.
	embed func(ctx context.Context, text string) ([]float32, error)

	count atomic.Int64
}

// NewSemantic creates a semantic evaluator. reference is the ideal prompt
// (or task description) candidate prompts are compared against.
func NewSemantic(ctx context.Context, apiKey, model string, p *pool.Pool, reference string) (*Semantic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if reference == "" {
		return nil, fmt.Errorf("reference text is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	s := &Semantic{
		client:    client,
		model:     model,
		pool:      p,
		reference: reference,
	}
	s.embed = s.embedAPI
	return s, nil
}

// Evaluate embeds the genome's rendered prompt and scores it against the
// reference embedding.
func (s *Semantic) Evaluate(ctx context.Context, g *genome.Genome, task string) (float64, error) {
	s.count.Add(1)

	ref, err := s.referenceVec(ctx)
	if err != nil {
		return 0, fmt.Errorf("reference embedding failed: %w", err)
	}

	vec, err := s.embed(ctx, g.RenderPrompt(s.pool, task))
	if err != nil {
		return 0, fmt.Errorf("prompt embedding failed: %w", err)
	}

	sim := cosineSimilarity(ref, vec)
	// Cosine lands in [-1, 1]; shift and scale into the fitness range.
	score := clampScore((sim + 1) / 2 * MaxScore)
	logging.Evaluator("[Semantic] genome %s similarity=%.3f score=%.2f", g.Key(), sim, score)
	return score, nil
}

// Stats reports evaluation counters.
func (s *Semantic) Stats() Stats {
	return Stats{Evaluations: int(s.count.Load()), Mode: "semantic"}
}

// referenceVec lazily embeds the reference text. Only one caller embeds; a
// failed attempt is retried by the next evaluation.
func (s *Semantic) referenceVec(ctx context.Context) ([]float32, error) {
	s.refMu.Lock()
	defer s.refMu.Unlock()
	if s.refVec != nil {
		return s.refVec, nil
	}
	vec, err := s.embed(ctx, s.reference)
	if err != nil {
		return nil, err
	}
	s.refVec = vec
	return vec, nil
}

func (s *Semantic) embedAPI(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := s.client.Models.EmbedContent(ctx,
		s.model,
		contents,
		&genai.EmbedContentConfig{
			TaskType: "SEMANTIC_SIMILARITY",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
