package stage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/clearlinux/bundle-updater/internal/config"
	"github.com/clearlinux/bundle-updater/internal/manifest"
)

type memBlobs struct {
	byHash map[manifest.Hash][]byte
}

func (m *memBlobs) FetchBlob(hash manifest.Hash) (io.ReadCloser, error) {
	data, ok := m.byHash[hash]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{Root: t.TempDir(), StateDir: t.TempDir()}
}

func regularFile(t *testing.T, blobs *memBlobs, path string, content []byte) *manifest.File {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "hashsrc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.Write(content); err != nil {
		t.Fatal(err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	// The Stager writes regular files with mode 0644, and the hash covers
	// the mode.
	if err := os.Chmod(name, 0644); err != nil {
		t.Fatal(err)
	}

	hash, err := manifest.HashFile(name)
	if err != nil {
		t.Fatal(err)
	}
	blobs.byHash[hash] = content
	return &manifest.File{Path: path, Hash: hash, Type: manifest.TypeRegular}
}

func dirFile(t *testing.T, blobs *memBlobs, path string) *manifest.File {
	t.Helper()
	dir := t.TempDir()
	hash, err := manifest.HashFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	return &manifest.File{Path: path, Hash: hash, Type: manifest.TypeDirectory}
}

func TestStageAllAndRenameAllPlacesRegularFile(t *testing.T) {
	cfg := testConfig(t)
	blobs := &memBlobs{byHash: map[manifest.Hash][]byte{}}
	s := New(cfg, blobs)

	f := regularFile(t, blobs, "/usr/bin/hello", []byte("hello world"))
	dir := dirFile(t, blobs, "/usr/bin")
	files := []*manifest.File{dir, f}

	if err := s.StageAll(files, files); err != nil {
		t.Fatalf("StageAll failed: %v", err)
	}
	if err := s.RenameAll(files); err != nil {
		t.Fatalf("RenameAll failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(cfg.Root, "usr/bin/hello"))
	if err != nil {
		t.Fatalf("couldn't read installed file: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("content = %q, want %q", got, "hello world")
	}
}

func TestStageSkipsDeletedAndDoNotUpdate(t *testing.T) {
	cfg := testConfig(t)
	blobs := &memBlobs{byHash: map[manifest.Hash][]byte{}}
	s := New(cfg, blobs)

	deleted := &manifest.File{Path: "/gone", Type: manifest.TypeRegular, IsDeleted: true}
	frozen := &manifest.File{Path: "/frozen", Type: manifest.TypeRegular, DoNotUpdate: true}
	files := []*manifest.File{deleted, frozen}

	if err := s.StageAll(files, files); err != nil {
		t.Fatalf("StageAll failed: %v", err)
	}
	if deleted.Staging != "" || frozen.Staging != "" {
		t.Errorf("skipped files should not be staged: %+v %+v", deleted, frozen)
	}
}

func TestStageRejectsContentHashMismatch(t *testing.T) {
	cfg := testConfig(t)
	blobs := &memBlobs{byHash: map[manifest.Hash][]byte{}}
	s := New(cfg, blobs)

	f := &manifest.File{Path: "/bad", Type: manifest.TypeRegular, Hash: "deadbeef"}
	blobs.byHash["deadbeef"] = []byte("wrong content")

	if err := s.StageAll([]*manifest.File{f}, []*manifest.File{f}); err == nil {
		t.Fatal("expected hash mismatch to fail staging")
	}
}

func TestRepairPathCreatesMissingParent(t *testing.T) {
	cfg := testConfig(t)
	blobs := &memBlobs{byHash: map[manifest.Hash][]byte{}}
	s := New(cfg, blobs)

	dir := dirFile(t, blobs, "/usr/share/newdir")
	child := regularFile(t, blobs, "/usr/share/newdir/file", []byte("x"))
	all := []*manifest.File{dir, child}

	if err := s.StageAll([]*manifest.File{child}, all); err != nil {
		t.Fatalf("StageAll with repair failed: %v", err)
	}
	if err := s.RenameAll([]*manifest.File{dir, child}); err != nil {
		t.Fatalf("RenameAll failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Root, "usr/share/newdir/file")); err != nil {
		t.Errorf("expected repaired file to exist: %v", err)
	}
}

func TestUnlinkRemovesFilesAndEmptyDirs(t *testing.T) {
	cfg := testConfig(t)
	blobs := &memBlobs{byHash: map[manifest.Hash][]byte{}}
	s := New(cfg, blobs)

	dir := dirFile(t, blobs, "/opt/thing")
	file := regularFile(t, blobs, "/opt/thing/data", []byte("x"))
	files := []*manifest.File{dir, file}

	if err := s.StageAll(files, files); err != nil {
		t.Fatalf("StageAll failed: %v", err)
	}
	if err := s.RenameAll(files); err != nil {
		t.Fatalf("RenameAll failed: %v", err)
	}

	s.Unlink(files)

	if _, err := os.Stat(filepath.Join(cfg.Root, "opt/thing/data")); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Root, "opt/thing")); !os.IsNotExist(err) {
		t.Errorf("expected empty directory to be removed, stat err = %v", err)
	}
}

func TestUnlinkLeavesNonEmptyDirectoryInPlace(t *testing.T) {
	cfg := testConfig(t)
	blobs := &memBlobs{byHash: map[manifest.Hash][]byte{}}
	s := New(cfg, blobs)

	dir := dirFile(t, blobs, "/shared")
	file := regularFile(t, blobs, "/shared/mine", []byte("x"))
	files := []*manifest.File{dir, file}

	if err := s.StageAll(files, files); err != nil {
		t.Fatalf("StageAll failed: %v", err)
	}
	if err := s.RenameAll(files); err != nil {
		t.Fatalf("RenameAll failed: %v", err)
	}

	// Leave an extra file behind that isn't part of this bundle's closure.
	if err := os.WriteFile(filepath.Join(cfg.Root, "shared/not-mine"), []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	s.Unlink(files)

	if _, err := os.Stat(filepath.Join(cfg.Root, "shared")); err != nil {
		t.Errorf("expected shared directory to survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Root, "shared/not-mine")); err != nil {
		t.Errorf("expected unrelated file to survive: %v", err)
	}
}

func TestRecoverReplaysPendingRenameAndClearsJournal(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.StagedDir(), 0755); err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(cfg.StagedDir(), "pending-file")
	if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(cfg.Root, "usr/bin/pending")

	j, err := openJournal(cfg.StagedDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := j.record(src, dst); err != nil {
		t.Fatal(err)
	}
	_ = j.Close()

	if err := Recover(cfg.StagedDir()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}

	if _, err := os.Stat(dst); err != nil {
		t.Errorf("expected pending rename to be completed: %v", err)
	}

	data, err := os.ReadFile(journalPath(cfg.StagedDir()))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("expected journal to be cleared, got %q", data)
	}
}
