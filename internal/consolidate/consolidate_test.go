package consolidate

import (
	"testing"

	"github.com/clearlinux/bundle-updater/internal/manifest"
)

func f(path string, version uint32, hash string, deleted bool) *manifest.File {
	return &manifest.File{Path: path, LastChange: version, Hash: manifest.Hash(hash), IsDeleted: deleted}
}

func TestConsolidateKeepsHighestVersionPerPath(t *testing.T) {
	files := []*manifest.File{
		f("/usr/bin/ed", 5, "a", false),
		f("/usr/bin/ed", 10, "b", false),
		f("/usr/bin/vi", 3, "c", false),
	}
	got := Consolidate(files)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Path != "/usr/bin/ed" || got[0].LastChange != 10 {
		t.Errorf("got %+v, want highest version of /usr/bin/ed", got[0])
	}
}

func TestConsolidateNoDuplicatePaths(t *testing.T) {
	files := []*manifest.File{
		f("/a", 1, "x", false),
		f("/a", 2, "y", false),
		f("/a", 1, "z", false),
	}
	got := Consolidate(files)
	seen := map[string]bool{}
	for _, fl := range got {
		if seen[fl.Path] {
			t.Fatalf("path %s appeared more than once", fl.Path)
		}
		seen[fl.Path] = true
	}
}

func TestConsolidateTieBreaksByHash(t *testing.T) {
	files := []*manifest.File{
		f("/a", 5, "zzz", false),
		f("/a", 5, "aaa", false),
	}
	got := Consolidate(files)
	if len(got) != 1 || string(got[0].Hash) != "aaa" {
		t.Errorf("got %+v, want tie broken toward lowest hash", got)
	}
}

func TestConsolidateNonDeletedWinsOverDeletedAtSameVersion(t *testing.T) {
	files := []*manifest.File{
		f("/a", 5, "aaa", true),
		f("/a", 5, "bbb", false),
	}
	got := Consolidate(files)
	if len(got) != 1 || got[0].IsDeleted {
		t.Errorf("got %+v, want non-deleted entry to win", got)
	}
}

func TestDedupRemovesSharedPaths(t *testing.T) {
	bundleFiles := Files([]*manifest.File{
		f("/usr/bin/ed", 1, "a", false),
		f("/usr/bin/only-mine", 1, "b", false),
	})
	reference := Files([]*manifest.File{
		f("/usr/bin/ed", 2, "c", false),
		f("/usr/share/doc", 1, "d", false),
	})

	got := Dedup(bundleFiles, reference)
	if len(got) != 1 || got[0].Path != "/usr/bin/only-mine" {
		t.Errorf("got %+v, want only /usr/bin/only-mine to survive", got)
	}
}

func TestDedupSharesNoPathWithReference(t *testing.T) {
	bundleFiles := Files([]*manifest.File{
		f("/a", 1, "x", false),
		f("/b", 1, "y", false),
		f("/c", 1, "z", false),
	})
	reference := Files([]*manifest.File{
		f("/b", 1, "y", false),
	})

	got := Dedup(bundleFiles, reference)
	refPaths := map[string]bool{}
	for _, fl := range reference {
		refPaths[fl.Path] = true
	}
	for _, fl := range got {
		if refPaths[fl.Path] {
			t.Errorf("result shares path %s with reference set", fl.Path)
		}
	}
	if len(got) != 2 {
		t.Errorf("got %d entries, want 2", len(got))
	}
}

func TestFilesFromConcatenatesInOrder(t *testing.T) {
	m1 := &manifest.Manifest{Files: []*manifest.File{f("/a", 1, "x", false)}}
	m2 := &manifest.Manifest{Files: []*manifest.File{f("/b", 1, "y", false)}}
	got := FilesFrom([]*manifest.Manifest{m1, m2})
	if len(got) != 2 || got[0].Path != "/a" || got[1].Path != "/b" {
		t.Errorf("got %+v, want [/a /b] in order", got)
	}
}
