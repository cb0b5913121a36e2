package engine

import (
	"math/rand"
	"testing"

	"promptsynth/internal/genome"
	"promptsynth/internal/pool"
)

func newTestEngine(seed int64, opts ...Option) *Engine {
	return New(rand.New(rand.NewSource(seed)), opts...)
}

func TestNewPopulation(t *testing.T) {
	e := newTestEngine(1, WithPopulationSize(8))
	population := e.NewPopulation(pool.Default())

	if len(population) != 8 {
		t.Fatalf("expected 8 individuals, got %d", len(population))
	}
	for i, g := range population {
		if g == nil {
			t.Fatalf("individual %d is nil", i)
		}
		if !g.Mode.Valid() {
			t.Errorf("individual %d has invalid mode %q", i, g.Mode)
		}
	}
}

func TestSelectDarwin_KeepsTopHalf(t *testing.T) {
	e := newTestEngine(2)
	population := []*genome.Genome{
		{Fragments: []int{0}, Temperature: 0.5},
		{Fragments: []int{1}, Temperature: 0.5},
		{Fragments: []int{2}, Temperature: 0.5},
		{Fragments: []int{3}, Temperature: 0.5},
	}
	scores := []float64{3.0, 9.0, 1.0, 7.0}

	survivors := e.SelectDarwin(population, scores)

	if len(survivors) != 2 {
		t.Fatalf("expected 2 survivors from 4, got %d", len(survivors))
	}
	if survivors[0].Fragments[0] != 1 || survivors[1].Fragments[0] != 3 {
		t.Errorf("expected the two fittest to survive, got %v and %v",
			survivors[0].Fragments, survivors[1].Fragments)
	}
}

func TestSelectDarwin_AtLeastOneSurvives(t *testing.T) {
	e := newTestEngine(3, WithSurvivalRate(0.1))
	population := []*genome.Genome{
		{Fragments: []int{0}},
		{Fragments: []int{1}},
	}
	survivors := e.SelectDarwin(population, []float64{2.0, 5.0})

	if len(survivors) != 1 {
		t.Fatalf("expected exactly 1 survivor, got %d", len(survivors))
	}
	if survivors[0].Fragments[0] != 1 {
		t.Error("expected the fittest genome to be the lone survivor")
	}
}

func TestSelectKropotkin_EveryoneSurvives(t *testing.T) {
	e := newTestEngine(4)
	population := []*genome.Genome{
		{Fragments: []int{0, 1, 2}},
		{Fragments: []int{3, 4, 5}},
		{Fragments: []int{6, 7, 8}},
	}
	scores := []float64{2.0, 8.0, 5.0}

	survivors := e.SelectKropotkin(population, scores)

	if len(survivors) != len(population) {
		t.Fatalf("expected all %d to survive, got %d", len(population), len(survivors))
	}
}

func TestSelectKropotkin_BestDonatesToCommons(t *testing.T) {
	e := newTestEngine(5, WithSharingProb(0))
	population := []*genome.Genome{
		{Fragments: []int{0, 1, 2}},
		{Fragments: []int{3, 4, 5}},
	}
	e.SelectKropotkin(population, []float64{1.0, 9.0})

	commons := e.Commons()
	if len(commons) != 3 {
		t.Fatalf("expected 3 donated fragments, got %d", len(commons))
	}
	for i, want := range []int{3, 4, 5} {
		if commons[i] != want {
			t.Errorf("commons[%d] = %d, want %d", i, commons[i], want)
		}
	}
}

func TestSelectKropotkin_CommonsBounded(t *testing.T) {
	e := newTestEngine(6, WithCommonsSize(4), WithSharingProb(0))
	population := []*genome.Genome{
		{Fragments: []int{0, 1, 2}},
		{Fragments: []int{3, 4, 5}},
	}

	// Best donates 3 fragments per round; cap is 4, oldest drop first
	e.SelectKropotkin(population, []float64{1.0, 9.0}) // commons: 3 4 5
	e.SelectKropotkin(population, []float64{9.0, 1.0}) // commons: 5 0 1 2

	commons := e.Commons()
	if len(commons) != 4 {
		t.Fatalf("expected commons capped at 4, got %d", len(commons))
	}
	for i, want := range []int{5, 0, 1, 2} {
		if commons[i] != want {
			t.Errorf("commons[%d] = %d, want %d", i, commons[i], want)
		}
	}
}

func TestSelectKropotkin_AdoptionReplacesFirstFragment(t *testing.T) {
	e := newTestEngine(7, WithSharingProb(1.0))
	population := []*genome.Genome{
		{Fragments: []int{0, 1, 2}},
		{Fragments: []int{9, 8, 7}},
	}
	thirds := []int{population[0].Fragments[2], population[1].Fragments[2]}
	e.SelectKropotkin(population, []float64{1.0, 9.0})

	// Commons holds only 9, 8, 7, so every first fragment must come from it
	for i, g := range population {
		first := g.Fragments[0]
		if first != 9 && first != 8 && first != 7 {
			t.Errorf("individual %d first fragment %d not adopted from commons", i, first)
		}
		if g.Fragments[2] != thirds[i] {
			t.Errorf("individual %d lost a non-adopted fragment", i)
		}
	}
}

func TestReproduce_RestoresPopulationSize(t *testing.T) {
	e := newTestEngine(8, WithPopulationSize(6))
	p := pool.Default()
	survivors := []*genome.Genome{
		genome.Random(e.rng, p),
		genome.Random(e.rng, p),
	}

	next := e.Reproduce(survivors, genome.ModeDarwin, p)

	if len(next) != 6 {
		t.Fatalf("expected population refilled to 6, got %d", len(next))
	}
	for _, child := range next[2:] {
		if child.Mode != genome.ModeDarwin {
			t.Errorf("child carries mode %q, want darwin", child.Mode)
		}
	}
}

func TestReproduce_LoneSurvivor(t *testing.T) {
	e := newTestEngine(9, WithPopulationSize(4))
	p := pool.Default()
	survivor := genome.Random(e.rng, p)

	next := e.Reproduce([]*genome.Genome{survivor}, genome.ModeDarwin, p)

	if len(next) != 4 {
		t.Fatalf("expected population of 4 from a lone survivor, got %d", len(next))
	}
	for i, child := range next[1:] {
		if child == survivor {
			t.Errorf("child %d aliases the survivor instead of cloning", i)
		}
	}
}

func TestEvolveGeneration_ConstantSize(t *testing.T) {
	e := newTestEngine(10)
	p := pool.Default()
	population := e.NewPopulation(p)
	scores := make([]float64, len(population))
	for i := range scores {
		scores[i] = float64(i)
	}

	for gen := 0; gen < 5; gen++ {
		mode := genome.ModeDarwin
		if gen%2 == 1 {
			mode = genome.ModeKropotkin
		}
		population = e.EvolveGeneration(population, scores, mode, p)
		if len(population) != DefaultPopulationSize {
			t.Fatalf("generation %d: population size %d, want %d",
				gen, len(population), DefaultPopulationSize)
		}
	}
	if e.Generation() != 5 {
		t.Errorf("expected 5 generations recorded, got %d", e.Generation())
	}
}

func TestPickMode_DiversityThreshold(t *testing.T) {
	e := newTestEngine(11, WithModeThreshold(5))

	converged := []*genome.Genome{
		{Fragments: []int{0, 1, 2}},
		{Fragments: []int{0, 1, 2}},
		{Fragments: []int{2, 1, 0}},
	}
	if mode := e.PickMode(converged); mode != genome.ModeKropotkin {
		t.Errorf("low diversity should pick kropotkin, got %s", mode)
	}

	diverse := []*genome.Genome{
		{Fragments: []int{0, 1, 2}},
		{Fragments: []int{3, 4, 5}},
		{Fragments: []int{6, 7, 8}},
	}
	if mode := e.PickMode(diverse); mode != genome.ModeDarwin {
		t.Errorf("high diversity should pick darwin, got %s", mode)
	}
}

func TestDiversity(t *testing.T) {
	population := []*genome.Genome{
		{Fragments: []int{0, 1, 2}},
		{Fragments: []int{2, 3, 0}},
	}
	if d := Diversity(population); d != 4 {
		t.Errorf("expected diversity 4, got %d", d)
	}
	if d := Diversity(nil); d != 0 {
		t.Errorf("expected diversity 0 for empty population, got %d", d)
	}
}

func TestSetCommons_Truncates(t *testing.T) {
	e := newTestEngine(12, WithCommonsSize(3))
	e.SetCommons([]int{1, 2, 3, 4, 5})

	commons := e.Commons()
	if len(commons) != 3 {
		t.Fatalf("expected commons truncated to 3, got %d", len(commons))
	}
	for i, want := range []int{3, 4, 5} {
		if commons[i] != want {
			t.Errorf("commons[%d] = %d, want %d", i, commons[i], want)
		}
	}
}

func TestStats(t *testing.T) {
	e := newTestEngine(13)
	e.SetCommons([]int{1, 1, 2, 3})

	stats := e.Stats()
	if stats.Size != 4 {
		t.Errorf("expected size 4, got %d", stats.Size)
	}
	if stats.UniqueFragments != 3 {
		t.Errorf("expected 3 unique fragments, got %d", stats.UniqueFragments)
	}
}

func TestDeterministicEvolution(t *testing.T) {
	p := pool.Default()
	run := func(seed int64) []string {
		e := newTestEngine(seed)
		population := e.NewPopulation(p)
		scores := []float64{5, 6, 7, 8, 9}
		for gen := 0; gen < 3; gen++ {
			population = e.EvolveGeneration(population, scores, e.PickMode(population), p)
		}
		keys := make([]string, len(population))
		for i, g := range population {
			keys[i] = g.Key()
		}
		return keys
	}

	a, b := run(99), run(99)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seeded runs diverged at individual %d: %s vs %s", i, a[i], b[i])
		}
	}
}
