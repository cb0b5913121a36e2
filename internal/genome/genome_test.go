package genome

import (
	"math/rand"
	"strings"
	"testing"

	"promptsynth/internal/pool"
)

func TestRandom_ValidByConstruction(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p := pool.Default()

	for i := 0; i < 100; i++ {
		g := Random(rng, p)

		if len(g.Fragments) != 3 {
			t.Fatalf("expected 3 fragments, got %d", len(g.Fragments))
		}
		seen := make(map[int]struct{})
		for _, f := range g.Fragments {
			if f < 0 || f >= p.Size() {
				t.Errorf("fragment index %d outside pool of %d", f, p.Size())
			}
			if _, dup := seen[f]; dup {
				t.Errorf("duplicate fragment index %d", f)
			}
			seen[f] = struct{}{}
		}
		if g.Temperature < 0.3 || g.Temperature > 0.9 {
			t.Errorf("temperature %.3f outside [0.3, 0.9]", g.Temperature)
		}
		if !g.Mode.Valid() {
			t.Errorf("invalid mode %q", g.Mode)
		}
	}
}

func TestRandom_Deterministic(t *testing.T) {
	p := pool.Default()
	a := Random(rand.New(rand.NewSource(7)), p)
	b := Random(rand.New(rand.NewSource(7)), p)

	if a.Key() != b.Key() || a.Mode != b.Mode {
		t.Errorf("same seed produced different genomes: %s vs %s", a, b)
	}
}

func TestRandom_SmallPool(t *testing.T) {
	p := &pool.Pool{Fragments: []string{"only one", "and two"}}
	g := Random(rand.New(rand.NewSource(1)), p)
	if len(g.Fragments) != 2 {
		t.Errorf("expected fragment count capped at pool size, got %d", len(g.Fragments))
	}
}

func TestMutate_RateZeroIsNoop(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	p := pool.Default()
	g := Random(rng, p)
	before := g.Key()

	for i := 0; i < 50; i++ {
		g.Mutate(rng, p, 0)
	}
	if g.Key() != before {
		t.Errorf("mutation with rate 0 changed genome: %s -> %s", before, g.Key())
	}
}

func TestMutate_KeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	p := pool.Default()
	g := Random(rng, p)

	for i := 0; i < 500; i++ {
		g.Mutate(rng, p, 1.0)

		if g.Temperature < 0 || g.Temperature > 1 {
			t.Fatalf("temperature %.3f escaped [0, 1]", g.Temperature)
		}
		for _, f := range g.Fragments {
			if f < 0 || f >= p.Size() {
				t.Fatalf("fragment index %d escaped pool of %d", f, p.Size())
			}
		}
	}
}

func TestCrossover(t *testing.T) {
	a := &Genome{Fragments: []int{0, 1, 2}, Temperature: 0.4, Mode: ModeDarwin}
	b := &Genome{Fragments: []int{7, 8, 9}, Temperature: 0.8, Mode: ModeKropotkin}

	child := a.Crossover(b)

	want := []int{0, 8, 9}
	if len(child.Fragments) != len(want) {
		t.Fatalf("expected %d fragments, got %d", len(want), len(child.Fragments))
	}
	for i, f := range want {
		if child.Fragments[i] != f {
			t.Errorf("fragment %d: expected %d, got %d", i, f, child.Fragments[i])
		}
	}
	if child.Temperature != 0.6 {
		t.Errorf("expected mean temperature 0.6, got %.3f", child.Temperature)
	}
	if child.Mode != ModeDarwin {
		t.Errorf("expected receiver's mode darwin, got %s", child.Mode)
	}

	// Parents untouched
	if a.Fragments[1] != 1 || b.Fragments[0] != 7 {
		t.Error("crossover modified a parent")
	}
}

func TestClone_Independent(t *testing.T) {
	g := &Genome{Fragments: []int{1, 2, 3}, Temperature: 0.5, Mode: ModeDarwin}
	c := g.Clone()
	c.Fragments[0] = 99
	c.Temperature = 0.1

	if g.Fragments[0] != 1 || g.Temperature != 0.5 {
		t.Error("mutating the clone changed the original")
	}
}

func TestKey_OrderInsensitive(t *testing.T) {
	a := &Genome{Fragments: []int{2, 0, 1}, Temperature: 0.5}
	b := &Genome{Fragments: []int{0, 1, 2}, Temperature: 0.5}
	if a.Key() != b.Key() {
		t.Errorf("fragment order changed key: %s vs %s", a.Key(), b.Key())
	}

	c := &Genome{Fragments: []int{0, 1, 2}, Temperature: 0.504}
	if b.Key() != c.Key() {
		t.Errorf("temperatures equal at 2 decimals should share a key: %s vs %s", b.Key(), c.Key())
	}

	d := &Genome{Fragments: []int{0, 1, 3}, Temperature: 0.5}
	if b.Key() == d.Key() {
		t.Error("different fragments produced the same key")
	}
}

func TestRenderPrompt(t *testing.T) {
	p := pool.Default()
	g := &Genome{Fragments: []int{0, 4}, Temperature: 0.75}

	prompt := g.RenderPrompt(p, "Write a haiku")

	if !strings.Contains(prompt, p.Instruction(0)) || !strings.Contains(prompt, p.Instruction(4)) {
		t.Errorf("prompt missing instructions: %q", prompt)
	}
	if !strings.Contains(prompt, "Task: Write a haiku") {
		t.Errorf("prompt missing task: %q", prompt)
	}
	if !strings.Contains(prompt, "Temperature: 0.75") {
		t.Errorf("prompt missing temperature: %q", prompt)
	}
}
