// Package engine implements the Darwin-Kropotkin evolutionary synthesis:
//   - Darwin mode: competition, survival of the fittest
//   - Kropotkin mode: cooperation, knowledge sharing via the Commons
package engine

import (
	"math/rand"
	"sort"

	"promptsynth/internal/genome"
	"promptsynth/internal/logging"
	"promptsynth/internal/pool"
)

// Defaults for the evolutionary parameters. The config layer exposes all of
// them; these match the reference behavior.
const (
	DefaultPopulationSize = 5
	DefaultCommonsSize    = 10
	DefaultSurvivalRate   = 0.5
	DefaultSharingProb    = 0.5
	DefaultMutationRate   = 0.2
	DefaultModeThreshold  = 5
)

// Engine manages the evolutionary process for a population of genomes.
//
// The Commons is the Kropotkin-phase shared fragment pool: the best genome
// of each cooperative generation donates its fragments, and any individual
// may adopt from it.
type Engine struct {
	populationSize int
	commons        []int
	commonsMax     int
	survivalRate   float64
	sharingProb    float64
	mutationRate   float64
	modeThreshold  int
	generations    int
	rng            *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithPopulationSize sets the number of individuals per generation.
func WithPopulationSize(n int) Option {
	return func(e *Engine) { e.populationSize = n }
}

// WithCommonsSize caps the shared fragment pool.
func WithCommonsSize(n int) Option {
	return func(e *Engine) { e.commonsMax = n }
}

// WithSurvivalRate sets the Darwin-phase surviving fraction.
func WithSurvivalRate(r float64) Option {
	return func(e *Engine) { e.survivalRate = r }
}

// WithSharingProb sets the Kropotkin-phase adoption probability.
func WithSharingProb(p float64) Option {
	return func(e *Engine) { e.sharingProb = p }
}

// WithMutationRate sets the per-child mutation probability.
func WithMutationRate(r float64) Option {
	return func(e *Engine) { e.mutationRate = r }
}

// WithModeThreshold sets the unique-fragment count below which PickMode
// chooses cooperation.
func WithModeThreshold(n int) Option {
	return func(e *Engine) { e.modeThreshold = n }
}

// New creates an engine seeded by rng. A nil rng gets a time-seeded source;
// tests inject a fixed seed for reproducible runs.
func New(rng *rand.Rand, opts ...Option) *Engine {
	e := &Engine{
		populationSize: DefaultPopulationSize,
		commonsMax:     DefaultCommonsSize,
		survivalRate:   DefaultSurvivalRate,
		sharingProb:    DefaultSharingProb,
		mutationRate:   DefaultMutationRate,
		modeThreshold:  DefaultModeThreshold,
		rng:            rng,
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewPopulation generates the initial random population.
func (e *Engine) NewPopulation(p *pool.Pool) []*genome.Genome {
	population := make([]*genome.Genome, e.populationSize)
	for i := range population {
		population[i] = genome.Random(e.rng, p)
	}
	logging.Engine("created initial population of %d", e.populationSize)
	return population
}

// ranked pairs a genome with its score for sorting.
type ranked struct {
	genome *genome.Genome
	score  float64
}

func rankByScore(population []*genome.Genome, scores []float64) []ranked {
	rs := make([]ranked, len(population))
	for i, g := range population {
		rs[i] = ranked{genome: g, score: scores[i]}
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].score > rs[j].score })
	return rs
}

// SelectDarwin performs competitive selection: rank by fitness and keep the
// top survivalRate fraction, never fewer than one.
func (e *Engine) SelectDarwin(population []*genome.Genome, scores []float64) []*genome.Genome {
	rs := rankByScore(population, scores)

	n := int(float64(len(population)) * e.survivalRate)
	if n < 1 {
		n = 1
	}
	survivors := make([]*genome.Genome, n)
	for i := 0; i < n; i++ {
		survivors[i] = rs[i].genome
	}

	logging.EngineDebug("darwin selection: %d/%d survive (best %.2f)",
		n, len(population), rs[0].score)
	return survivors
}

// SelectKropotkin performs cooperative selection. The fittest genome donates
// its fragments to the Commons (truncated front-first at the cap), then
// every individual survives but may adopt a random Commons fragment into its
// first position with probability sharingProb.
func (e *Engine) SelectKropotkin(population []*genome.Genome, scores []float64) []*genome.Genome {
	rs := rankByScore(population, scores)

	if len(rs) > 0 {
		e.commons = append(e.commons, rs[0].genome.Fragments...)
		if len(e.commons) > e.commonsMax {
			e.commons = e.commons[len(e.commons)-e.commonsMax:]
		}
	}

	survivors := make([]*genome.Genome, 0, len(population))
	adopted := 0
	for _, g := range population {
		if len(e.commons) > 0 && len(g.Fragments) > 0 && e.rng.Float64() < e.sharingProb {
			g.Fragments[0] = e.commons[e.rng.Intn(len(e.commons))]
			adopted++
		}
		survivors = append(survivors, g)
	}

	logging.EngineDebug("kropotkin selection: %d adopted from commons (size %d)",
		adopted, len(e.commons))
	return survivors
}

// Reproduce refills the population to its target size with mutated crossover
// children of random survivor pairs. Children carry the phase's mode. A lone
// survivor is cloned and mutated instead of crossed.
func (e *Engine) Reproduce(survivors []*genome.Genome, mode genome.Mode, p *pool.Pool) []*genome.Genome {
	next := make([]*genome.Genome, 0, e.populationSize)
	next = append(next, survivors...)

	for len(next) < e.populationSize {
		var child *genome.Genome
		if len(survivors) >= 2 {
			i := e.rng.Intn(len(survivors))
			j := e.rng.Intn(len(survivors) - 1)
			if j >= i {
				j++
			}
			child = survivors[i].Crossover(survivors[j])
		} else {
			child = survivors[0].Clone()
		}
		child.Mutate(e.rng, p, e.mutationRate)
		child.Mode = mode
		next = append(next, child)
	}

	return next
}

// EvolveGeneration executes one full generation: selection by mode, then
// reproduction back to the target population size.
func (e *Engine) EvolveGeneration(population []*genome.Genome, scores []float64, mode genome.Mode, p *pool.Pool) []*genome.Genome {
	e.generations++

	var survivors []*genome.Genome
	if mode == genome.ModeDarwin {
		survivors = e.SelectDarwin(population, scores)
	} else {
		survivors = e.SelectKropotkin(population, scores)
	}

	next := e.Reproduce(survivors, mode, p)
	logging.Engine("generation %d evolved in %s mode", e.generations, mode)
	return next
}

// PickMode chooses the next phase from population diversity: when the count
// of unique fragment indices drops below the threshold, cooperate to spread
// the good fragments around; otherwise keep competing.
func (e *Engine) PickMode(population []*genome.Genome) genome.Mode {
	if Diversity(population) < e.modeThreshold {
		return genome.ModeKropotkin
	}
	return genome.ModeDarwin
}

// Diversity counts the unique fragment indices across a population.
func Diversity(population []*genome.Genome) int {
	seen := make(map[int]struct{})
	for _, g := range population {
		for _, f := range g.Fragments {
			seen[f] = struct{}{}
		}
	}
	return len(seen)
}

// Generation returns how many generations have been evolved.
func (e *Engine) Generation() int {
	return e.generations
}

// Commons returns a copy of the shared fragment pool.
func (e *Engine) Commons() []int {
	return append([]int(nil), e.commons...)
}

// SetCommons replaces the shared fragment pool, truncating to the cap.
// Snapshot restore uses this.
func (e *Engine) SetCommons(fragments []int) {
	e.commons = append([]int(nil), fragments...)
	if len(e.commons) > e.commonsMax {
		e.commons = e.commons[len(e.commons)-e.commonsMax:]
	}
}

// CommonsStats describes the shared knowledge pool.
type CommonsStats struct {
	Size            int
	UniqueFragments int
}

// Stats returns statistics about the Commons.
func (e *Engine) Stats() CommonsStats {
	unique := make(map[int]struct{})
	for _, f := range e.commons {
		unique[f] = struct{}{}
	}
	return CommonsStats{Size: len(e.commons), UniqueFragments: len(unique)}
}
