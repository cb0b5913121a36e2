// Package session wires the pool, engine, evaluator and history store into a
// single evolution run that the CLI and the dashboard both drive.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"promptsynth/internal/config"
	"promptsynth/internal/engine"
	"promptsynth/internal/evaluator"
	"promptsynth/internal/genome"
	"promptsynth/internal/history"
	"promptsynth/internal/logging"
	"promptsynth/internal/pool"
)

// Session holds the live state of one evolution run.
type Session struct {
	Cfg        *config.Config
	Pool       *pool.Pool
	Engine     *engine.Engine
	Eval       evaluator.Evaluator
	Store      *history.Store
	RunID      string
	Seed       int64
	Population []*genome.Genome
	Scores     []float64

	// per-generation histories, oldest first
	AvgHistory       []float64
	BestHistory      []float64
	DiversityHistory []int
	ModeHistory      []string
}

// New builds a session from config: loads the pool, seeds the RNG, picks the
// evaluator, opens the store and spawns the initial population.
func New(ctx context.Context, cfg *config.Config) (*Session, error) {
	seed := cfg.Evolution.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	var p *pool.Pool
	if cfg.PoolFile != "" {
		loaded, err := pool.LoadFile(cfg.PoolFile)
		if err != nil {
			return nil, err
		}
		p = loaded
	} else {
		p = pool.Default()
	}

	eng := engine.New(rng,
		engine.WithPopulationSize(cfg.Evolution.PopulationSize),
		engine.WithCommonsSize(cfg.Evolution.CommonsSize),
		engine.WithSurvivalRate(cfg.Evolution.SurvivalRate),
		engine.WithSharingProb(cfg.Evolution.SharingProb),
		engine.WithMutationRate(cfg.Evolution.MutationRate),
		engine.WithModeThreshold(cfg.Evolution.ModeThreshold),
	)

	ev, err := buildEvaluator(ctx, cfg, rng, p)
	if err != nil {
		return nil, err
	}

	store, err := history.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	runID, err := store.BeginRun(cfg.Evolution.Task, cfg.Evaluator.Mode)
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &Session{
		Cfg:        cfg,
		Pool:       p,
		Engine:     eng,
		Eval:       ev,
		Store:      store,
		RunID:      runID,
		Seed:       seed,
		Population: eng.NewPopulation(p),
	}
	logging.Engine("session %s created (seed=%d population=%d)", runID, seed, len(s.Population))
	return s, nil
}

// buildEvaluator constructs the configured evaluator. API-backed evaluators
// are wrapped in a cache so identical genomes are never re-scored.
func buildEvaluator(ctx context.Context, cfg *config.Config, rng *rand.Rand, p *pool.Pool) (evaluator.Evaluator, error) {
	switch cfg.Evaluator.Mode {
	case "mock":
		return evaluator.NewMock(rng), nil
	case "gemini":
		timeout, err := cfg.EvaluatorTimeout()
		if err != nil {
			return nil, err
		}
		gcfg := evaluator.DefaultGeminiConfig(cfg.Evaluator.APIKey)
		if cfg.Evaluator.Model != "" {
			gcfg.Model = cfg.Evaluator.Model
		}
		if cfg.Evaluator.BaseURL != "" {
			gcfg.BaseURL = cfg.Evaluator.BaseURL
		}
		gcfg.Timeout = timeout
		g, err := evaluator.NewGemini(gcfg, p)
		if err != nil {
			return nil, err
		}
		return evaluator.NewCached(g), nil
	case "semantic":
		sem, err := evaluator.NewSemantic(ctx, cfg.Evaluator.APIKey, cfg.Evaluator.Model, p, cfg.Evaluator.Reference)
		if err != nil {
			return nil, err
		}
		return evaluator.NewCached(sem), nil
	default:
		return nil, fmt.Errorf("unknown evaluator mode %q", cfg.Evaluator.Mode)
	}
}

// NextMode resolves the selection mode for the upcoming generation from the
// configured phase policy.
func (s *Session) NextMode() genome.Mode {
	switch s.Cfg.Evolution.Phase {
	case "darwin":
		return genome.ModeDarwin
	case "kropotkin":
		return genome.ModeKropotkin
	case "alternate":
		if s.Engine.Generation()%2 == 0 {
			return genome.ModeDarwin
		}
		return genome.ModeKropotkin
	default:
		return s.Engine.PickMode(s.Population)
	}
}

// Step evaluates the current population, records it and evolves the next
// generation. The returned record describes the generation just scored.
func (s *Session) Step(ctx context.Context) (history.GenerationRecord, error) {
	// Individuals keep the mode they were bred under; only children of this
	// generation are stamped, in Reproduce.
	mode := s.NextMode()

	parallelism := s.Cfg.Evaluator.Parallelism
	if s.Cfg.Evaluator.Mode == "mock" {
		// The mock draws from the seeded rng; serial evaluation keeps
		// same-seed runs byte-for-byte reproducible.
		parallelism = 1
	}
	scores, err := evaluator.EvaluatePopulationN(ctx, s.Eval, s.Population, s.Cfg.Evolution.Task, parallelism)
	if err != nil {
		return history.GenerationRecord{}, err
	}
	s.Scores = scores

	rec := history.GenerationRecord{
		Generation:  s.Engine.Generation() + 1,
		Mode:        mode,
		AvgFitness:  mean(scores),
		BestFitness: max(scores),
		Diversity:   engine.Diversity(s.Population),
		CommonsSize: s.Engine.Stats().Size,
	}

	if err := s.Store.RecordIndividuals(s.RunID, rec.Generation, s.Population, scores); err != nil {
		return rec, err
	}

	s.Population = s.Engine.EvolveGeneration(s.Population, scores, mode, s.Pool)
	rec.CommonsSize = s.Engine.Stats().Size

	if err := s.Store.RecordGeneration(s.RunID, rec); err != nil {
		return rec, err
	}

	s.AvgHistory = append(s.AvgHistory, rec.AvgFitness)
	s.BestHistory = append(s.BestHistory, rec.BestFitness)
	s.DiversityHistory = append(s.DiversityHistory, rec.Diversity)
	s.ModeHistory = append(s.ModeHistory, string(rec.Mode))
	return rec, nil
}

// Frame is a read-only snapshot of the session for rendering. The population
// is cloned so a frame stays valid while Step mutates the live genomes on
// another goroutine. Take frames only from the goroutine currently driving
// the session, never concurrently with Step.
type Frame struct {
	Generation  int
	Seed        int64
	NextMode    genome.Mode
	Population  []*genome.Genome
	Scores      []float64
	AvgHistory  []float64
	BestHistory []float64
	Diversity   int
	CommonsSize int
	Pool        *pool.Pool
}

// Frame captures the current state for rendering.
func (s *Session) Frame() Frame {
	population := make([]*genome.Genome, len(s.Population))
	for i, g := range s.Population {
		population[i] = g.Clone()
	}
	return Frame{
		Generation:  s.Engine.Generation(),
		Seed:        s.Seed,
		NextMode:    s.NextMode(),
		Population:  population,
		Scores:      append([]float64(nil), s.Scores...),
		AvgHistory:  append([]float64(nil), s.AvgHistory...),
		BestHistory: append([]float64(nil), s.BestHistory...),
		Diversity:   engine.Diversity(s.Population),
		CommonsSize: s.Engine.Stats().Size,
		Pool:        s.Pool,
	}
}

// ReplacePool swaps the gene pool, e.g. after a watched pool file changed.
// Stale fragment indices in live genomes keep rendering through the pool's
// safe lookup. Callers must not swap mid-Step.
func (s *Session) ReplacePool(p *pool.Pool) {
	s.Pool = p
	logging.Pool("session pool replaced: %d fragments", p.Size())
}

// Best returns the highest-scoring genome recorded so far.
func (s *Session) Best() (*genome.Genome, float64, error) {
	return s.Store.BestIndividual(s.RunID)
}

// Reset discards the current population and starts a fresh run with a new
// time-based seed.
func (s *Session) Reset() error {
	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	s.Seed = seed
	s.Engine = engine.New(rng,
		engine.WithPopulationSize(s.Cfg.Evolution.PopulationSize),
		engine.WithCommonsSize(s.Cfg.Evolution.CommonsSize),
		engine.WithSurvivalRate(s.Cfg.Evolution.SurvivalRate),
		engine.WithSharingProb(s.Cfg.Evolution.SharingProb),
		engine.WithMutationRate(s.Cfg.Evolution.MutationRate),
		engine.WithModeThreshold(s.Cfg.Evolution.ModeThreshold),
	)
	if s.Cfg.Evaluator.Mode == "mock" {
		s.Eval = evaluator.NewMock(rng)
	}
	s.Population = s.Engine.NewPopulation(s.Pool)
	s.Scores = nil
	s.AvgHistory = nil
	s.BestHistory = nil
	s.DiversityHistory = nil
	s.ModeHistory = nil

	runID, err := s.Store.BeginRun(s.Cfg.Evolution.Task, s.Cfg.Evaluator.Mode)
	if err != nil {
		return err
	}
	s.RunID = runID
	logging.Engine("session reset, new run %s (seed=%d)", runID, seed)
	return nil
}

// SaveSnapshot writes the live state to the configured snapshot path.
func (s *Session) SaveSnapshot() (string, error) {
	snap := &history.Snapshot{
		Generation:       s.Engine.Generation(),
		Task:             s.Cfg.Evolution.Task,
		FitnessHistory:   append([]float64(nil), s.AvgHistory...),
		DiversityHistory: append([]int(nil), s.DiversityHistory...),
		ModeHistory:      append([]string(nil), s.ModeHistory...),
		Population:       s.Population,
		Commons:          s.Engine.Commons(),
	}
	path := s.Cfg.Storage.SnapshotPath
	if err := history.SaveSnapshot(path, snap); err != nil {
		return "", err
	}
	return path, nil
}

// RestoreSnapshot loads a snapshot and replaces the live state with it.
func (s *Session) RestoreSnapshot(path string) error {
	snap, err := history.LoadSnapshot(path)
	if err != nil {
		return err
	}
	for _, g := range snap.Population {
		for _, idx := range g.Fragments {
			if idx < 0 || idx >= s.Pool.Size() {
				return fmt.Errorf("snapshot genome references fragment %d outside pool of %d", idx, s.Pool.Size())
			}
		}
	}
	s.Population = snap.Population
	s.Scores = nil
	s.BestHistory = nil
	s.AvgHistory = append([]float64(nil), snap.FitnessHistory...)
	s.DiversityHistory = append([]int(nil), snap.DiversityHistory...)
	s.ModeHistory = append([]string(nil), snap.ModeHistory...)
	s.Engine.SetCommons(snap.Commons)
	logging.Engine("restored snapshot from %s (generation %d)", path, snap.Generation)
	return nil
}

// Close releases the store.
func (s *Session) Close() error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

func mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}

func max(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	best := scores[0]
	for _, v := range scores[1:] {
		if v > best {
			best = v
		}
	}
	return best
}
