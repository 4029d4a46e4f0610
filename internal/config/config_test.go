package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg := Load("nowhere.ini")
	want := defaults()
	if cfg != want {
		t.Errorf("Load(missing) = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadOverridesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swupd.ini")
	contents := "[swupd]\n" +
		"root = /target\n" +
		"statedir = /target/var/lib/swupd\n" +
		"contenturl = https://mirror.example.com\n" +
		"versionurl = https://mirror.example.com\n" +
		"format = 2\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Root != "/target" {
		t.Errorf("Root = %q, want /target", cfg.Root)
	}
	if cfg.StateDir != "/target/var/lib/swupd" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.Format != "2" {
		t.Errorf("Format = %q, want 2", cfg.Format)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Config{Root: "/", StateDir: "/var/lib/swupd"}
	if cfg.BundlesPath() != "/usr/share/clear/bundles" {
		t.Errorf("BundlesPath = %q", cfg.BundlesPath())
	}
	if cfg.StagedDir() != "/var/lib/swupd/staged" {
		t.Errorf("StagedDir = %q", cfg.StagedDir())
	}
	if cfg.LockPath() != "/var/lib/swupd/swupd_lock" {
		t.Errorf("LockPath = %q", cfg.LockPath())
	}
	if cfg.ManifestCachePath(10, "editors") != "/var/lib/swupd/10/Manifest.editors" {
		t.Errorf("ManifestCachePath = %q", cfg.ManifestCachePath(10, "editors"))
	}
}
