// Package genome implements the prompt genome: an individual in the
// evolutionary population. The genotype is a structured record (fragment
// indices plus parameters); the phenotype is the rendered prompt text.
package genome

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"promptsynth/internal/pool"
)

// Mode is the evolutionary strategy a genome was bred under.
type Mode string

const (
	// ModeDarwin marks competitive selection: survival of the fittest.
	ModeDarwin Mode = "darwin"
	// ModeKropotkin marks cooperative selection: shared knowledge via the Commons.
	ModeKropotkin Mode = "kropotkin"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeDarwin || m == ModeKropotkin
}

// Genome is an evolvable prompt configuration.
//
// Genotype:
//   - Fragments: indices into the instruction pool
//   - Temperature: LLM sampling temperature, clamped to [0, 1]
//   - Mode: strategy the genome was bred under
//
// Phenotype: RenderPrompt.
type Genome struct {
	Fragments   []int   `json:"fragments"`
	Temperature float64 `json:"temperature"`
	Mode        Mode    `json:"mode"`
}

// fragmentCount is how many instruction fragments a fresh genome carries.
const fragmentCount = 3

// Random generates a valid random genome for population initialization:
// distinct fragment indices, temperature in [0.3, 0.9], random mode.
func Random(rng *rand.Rand, p *pool.Pool) *Genome {
	n := fragmentCount
	if p.Size() < n {
		n = p.Size()
	}
	fragments := rng.Perm(p.Size())[:n]

	mode := ModeDarwin
	if rng.Intn(2) == 1 {
		mode = ModeKropotkin
	}

	return &Genome{
		Fragments:   fragments,
		Temperature: 0.3 + rng.Float64()*0.6,
		Mode:        mode,
	}
}

// RenderPrompt converts genotype to phenotype: the prompt text sent to the
// LLM for the given task.
func (g *Genome) RenderPrompt(p *pool.Pool, task string) string {
	instructions := make([]string, len(g.Fragments))
	for i, idx := range g.Fragments {
		instructions[i] = p.Instruction(idx)
	}
	return fmt.Sprintf("%s. Task: %s. Temperature: %.2f",
		strings.Join(instructions, " "), task, g.Temperature)
}

// Mutate applies at most one mutation operator with probability rate:
// either a discrete fragment swap or a Gaussian temperature perturbation
// (sigma 0.1, clamped to [0, 1]).
func (g *Genome) Mutate(rng *rand.Rand, p *pool.Pool, rate float64) {
	if rng.Float64() > rate {
		return
	}

	if rng.Float64() < 0.5 && len(g.Fragments) > 0 {
		// Discrete mutation: replace one fragment index
		idx := rng.Intn(len(g.Fragments))
		g.Fragments[idx] = rng.Intn(p.Size())
	} else {
		// Real-valued mutation: Gaussian temperature noise
		g.Temperature = clamp(g.Temperature+rng.NormFloat64()*0.1, 0, 1)
	}
}

// Crossover performs single-point crossover with a partner: the child takes
// the first half of the receiver's fragments and the rest from the partner,
// blends temperature as the parents' mean, and inherits the receiver's mode.
// Neither parent is modified.
func (g *Genome) Crossover(partner *Genome) *Genome {
	mid := len(g.Fragments) / 2
	child := make([]int, 0, len(g.Fragments))
	child = append(child, g.Fragments[:mid]...)
	if mid < len(partner.Fragments) {
		child = append(child, partner.Fragments[mid:]...)
	}

	return &Genome{
		Fragments:   child,
		Temperature: (g.Temperature + partner.Temperature) / 2,
		Mode:        g.Mode,
	}
}

// Clone returns a deep copy.
func (g *Genome) Clone() *Genome {
	return &Genome{
		Fragments:   append([]int(nil), g.Fragments...),
		Temperature: g.Temperature,
		Mode:        g.Mode,
	}
}

// Key generates a hashable key for caching fitness evaluations. Fragment
// order does not affect fitness, so indices are sorted.
func (g *Genome) Key() string {
	sorted := append([]int(nil), g.Fragments...)
	sort.Ints(sorted)

	var b strings.Builder
	for i, f := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", f)
	}
	fmt.Fprintf(&b, "_%.2f", g.Temperature)
	return b.String()
}

// String returns a human-readable summary for logging and tables.
func (g *Genome) String() string {
	return fmt.Sprintf("Mode:%s | Temp:%.2f | Frags:%v", g.Mode, g.Temperature, g.Fragments)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
