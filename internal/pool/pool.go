// Package pool defines the gene pool for prompt genomes: the predefined,
// valid values ("alleles") that genes can take. Genomes store indices into
// the fragment pool rather than free text, so mutation always produces a
// valid prompt.
package pool

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pool holds the allele sets available to genomes. Fragments are the
// instruction building blocks referenced by index; the categorical sets
// describe role, output format and tone.
type Pool struct {
	Fragments []string `yaml:"fragments"`
	Roles     []string `yaml:"roles"`
	Formats   []string `yaml:"formats"`
	Tones     []string `yaml:"tones"`
}

// defaultFragments is the built-in instruction pool. Each index is a valid
// "instruction gene".
var defaultFragments = []string{
	"Be concise and direct",
	"Use practical examples",
	"Think step-by-step (Chain of Thought)",
	"Be empathetic and kind",
	"Prioritize technical precision",
	"Use Markdown formatting",
	"Use JSON formatting",
	"Act as a senior expert",
	"Act as a patient tutor",
	"Provide constructive criticism",
}

// Default returns the built-in gene pool.
func Default() *Pool {
	return &Pool{
		Fragments: append([]string(nil), defaultFragments...),
		Roles:     []string{"expert", "tutor", "critic", "assistant"},
		Formats:   []string{"markdown", "json", "plain_text", "bullet_points"},
		Tones:     []string{"clinical", "friendly", "formal", "casual"},
	}
}

// LoadFile reads a pool definition from a YAML file. Missing categorical
// sets fall back to the defaults; the fragment list must be present and
// valid.
func LoadFile(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pool file: %w", err)
	}

	p := Default()
	p.Fragments = nil
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse pool file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the pool invariants: at least one fragment, no blank
// fragments.
func (p *Pool) Validate() error {
	if len(p.Fragments) == 0 {
		return fmt.Errorf("pool has no instruction fragments")
	}
	for i, f := range p.Fragments {
		if f == "" {
			return fmt.Errorf("pool fragment %d is empty", i)
		}
	}
	return nil
}

// Size returns the number of instruction fragments.
func (p *Pool) Size() int {
	return len(p.Fragments)
}

// Instruction retrieves a fragment by index. Out-of-range indices fall back
// to fragment 0, so stale genomes render after a pool shrink.
func (p *Pool) Instruction(index int) string {
	if index >= 0 && index < len(p.Fragments) {
		return p.Fragments[index]
	}
	return p.Fragments[0]
}

// Save writes the pool definition as YAML.
func (p *Pool) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pool: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write pool file: %w", err)
	}
	return nil
}
