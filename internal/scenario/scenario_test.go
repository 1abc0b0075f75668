package scenario

import (
	"os"
	"path/filepath"
	"testing"
)

func writeScenario(t *testing.T, contents string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing scenario fixture: %v", err)
	}

	return path
}

func TestLoadValidScenario(t *testing.T) {
	path := writeScenario(t, `{
		"minToolVersion": "1.0.0",
		"regionSize": 4096,
		"pattern": "ABCDE",
		"seed": 7,
		"stormRate": 0.01,
		"steps": [
			{"op": "allocate", "handle": "a", "size": 64},
			{"op": "write", "handle": "a", "offset": 0, "data": "hi"},
			{"op": "free", "handle": "a"}
		]
	}`)

	cfg, err := Load(path, "1.2.0")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Steps) != 3 {
		t.Fatalf("got %d steps, want 3", len(cfg.Steps))
	}
}

func TestLoadRejectsIncompatibleToolVersion(t *testing.T) {
	path := writeScenario(t, `{
		"minToolVersion": "9.9.9",
		"regionSize": 4096,
		"pattern": "ABCDE"
	}`)

	if _, err := Load(path, "1.0.0"); err == nil {
		t.Fatal("expected an error for an incompatible tool version")
	}
}

func TestLoadRejectsBadPatternLength(t *testing.T) {
	path := writeScenario(t, `{"regionSize": 4096, "pattern": "AB"}`)

	if _, err := Load(path, "1.0.0"); err == nil {
		t.Fatal("expected an error for a pattern that isn't 5 bytes")
	}
}

func TestLoadRejectsUnknownOp(t *testing.T) {
	path := writeScenario(t, `{
		"regionSize": 4096,
		"pattern": "ABCDE",
		"steps": [{"op": "frobnicate"}]
	}`)

	if _, err := Load(path, "1.0.0"); err == nil {
		t.Fatal("expected an error for an unknown step op")
	}
}
