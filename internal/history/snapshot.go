package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"promptsynth/internal/genome"
	"promptsynth/internal/logging"
)

// Snapshot captures an in-flight evolution session so it can be restored
// without a database.
type Snapshot struct {
	Generation       int              `json:"generation"`
	Task             string           `json:"task"`
	FitnessHistory   []float64        `json:"fitness_history"`
	DiversityHistory []int            `json:"diversity_history"`
	ModeHistory      []string         `json:"mode_history"`
	Population       []*genome.Genome `json:"population"`
	Commons          []int            `json:"commons"`
}

// SaveSnapshot writes the snapshot as JSON to the given path.
func SaveSnapshot(path string, snap *Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	logging.Store("snapshot saved to %s (generation %d)", path, snap.Generation)
	return nil
}

// LoadSnapshot reads a snapshot written by SaveSnapshot.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	for _, g := range snap.Population {
		if g == nil {
			return nil, fmt.Errorf("snapshot contains a null genome")
		}
	}
	return &snap, nil
}
