package pool

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	p := Default()
	if p.Size() != 10 {
		t.Errorf("expected 10 default fragments, got %d", p.Size())
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default pool should validate: %v", err)
	}
	if len(p.Roles) == 0 || len(p.Formats) == 0 || len(p.Tones) == 0 {
		t.Error("default pool missing categorical sets")
	}
}

func TestInstruction_OutOfRangeFallsBack(t *testing.T) {
	p := Default()
	if got := p.Instruction(3); got != p.Fragments[3] {
		t.Errorf("expected fragment 3, got %q", got)
	}
	if got := p.Instruction(-1); got != p.Fragments[0] {
		t.Errorf("negative index should fall back to fragment 0, got %q", got)
	}
	if got := p.Instruction(999); got != p.Fragments[0] {
		t.Errorf("out-of-range index should fall back to fragment 0, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	empty := &Pool{}
	if err := empty.Validate(); err == nil {
		t.Error("pool without fragments should fail validation")
	}

	blank := &Pool{Fragments: []string{"ok", ""}}
	if err := blank.Validate(); err == nil {
		t.Error("pool with a blank fragment should fail validation")
	}
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")

	p := Default()
	p.Fragments = []string{"Answer in one sentence", "Cite your sources"}
	if err := p.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("expected 2 fragments, got %d", loaded.Size())
	}
	if loaded.Fragments[1] != "Cite your sources" {
		t.Errorf("unexpected fragment: %q", loaded.Fragments[1])
	}
}

func TestLoadFile_MissingCategoricalsFallBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	content := "fragments:\n  - Answer briefly\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if p.Size() != 1 {
		t.Fatalf("expected 1 fragment, got %d", p.Size())
	}
	if len(p.Roles) == 0 {
		t.Error("missing roles should fall back to defaults")
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("fragments: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected validation error for empty fragment list")
	}
}
