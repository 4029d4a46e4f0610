package trackedstate

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileIsZeroVersion(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "state.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.LastVersion != 0 {
		t.Errorf("LastVersion = %d, want 0", s.LastVersion)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s.LastVersion = 42
	if err := s.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.LastVersion != 42 {
		t.Errorf("LastVersion = %d, want 42", reloaded.LastVersion)
	}
}
