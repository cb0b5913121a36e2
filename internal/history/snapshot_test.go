package history

import (
	"os"
	"path/filepath"
	"testing"

	"promptsynth/internal/genome"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fallback.json")

	snap := &Snapshot{
		Generation:       4,
		Task:             "explain recursion",
		FitnessHistory:   []float64{6.1, 6.8, 7.2, 7.9},
		DiversityHistory: []int{9, 7, 6, 4},
		ModeHistory:      []string{"darwin", "darwin", "kropotkin", "darwin"},
		Population: []*genome.Genome{
			{Fragments: []int{0, 1, 2}, Temperature: 0.55, Mode: genome.ModeDarwin},
			{Fragments: []int{2, 4, 6}, Temperature: 0.72, Mode: genome.ModeKropotkin},
		},
		Commons: []int{1, 2, 4},
	}

	if err := SaveSnapshot(path, snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if loaded.Generation != 4 || loaded.Task != "explain recursion" {
		t.Errorf("header fields lost: %+v", loaded)
	}
	if len(loaded.Population) != 2 {
		t.Fatalf("expected 2 genomes, got %d", len(loaded.Population))
	}
	if loaded.Population[1].Mode != genome.ModeKropotkin {
		t.Errorf("genome mode lost: %s", loaded.Population[1].Mode)
	}
	if len(loaded.Commons) != 3 || loaded.Commons[2] != 4 {
		t.Errorf("commons lost: %v", loaded.Commons)
	}
}

func TestLoadSnapshot_Errors(t *testing.T) {
	if _, err := LoadSnapshot(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing snapshot")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(bad); err == nil {
		t.Error("expected error for malformed snapshot")
	}

	nullGenome := filepath.Join(t.TempDir(), "null.json")
	if err := os.WriteFile(nullGenome, []byte(`{"population":[null]}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(nullGenome); err == nil {
		t.Error("expected error for null genome in population")
	}
}
