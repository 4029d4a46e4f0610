package graph

import (
	"testing"

	"github.com/clearlinux/bundle-updater/internal/manifest"
)

type fakeFetcher struct {
	subs map[string]*manifest.Manifest
}

func (f *fakeFetcher) FetchSub(version uint32, name, expectedHash string) (*manifest.Manifest, error) {
	m, ok := f.subs[name]
	if !ok {
		return nil, errNotFound(name)
	}
	return m, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "no such bundle: " + string(e) }

func momWithPointers(names ...string) *manifest.Manifest {
	mom := &manifest.Manifest{Component: manifest.MoMName, Version: 10}
	for _, n := range names {
		mom.Manifests = append(mom.Manifests, &manifest.File{Path: n, Hash: manifest.Hash("h-" + n)})
	}
	return mom
}

func TestSingleReturnsOnlyTheNamedBundle(t *testing.T) {
	mom := momWithPointers("editors", "devtools")
	f := &fakeFetcher{subs: map[string]*manifest.Manifest{
		"editors":  {Component: "editors", Includes: []string{"devtools"}},
		"devtools": {Component: "devtools"},
	}}

	got, err := Single(f, mom, "editors")
	if err != nil {
		t.Fatalf("Single: %v", err)
	}
	if len(got) != 1 || got[0].Component != "editors" {
		t.Fatalf("Single returned %v, want just editors", got)
	}
}

func TestSingleMissingFromMoMFails(t *testing.T) {
	mom := momWithPointers("editors")
	f := &fakeFetcher{subs: map[string]*manifest.Manifest{"editors": {Component: "editors"}}}

	if _, err := Single(f, mom, "nope"); err == nil {
		t.Error("expected Single to fail for a name absent from the MoM")
	}
}

func TestRecurseFollowsIncludesTransitively(t *testing.T) {
	mom := momWithPointers("devtools", "editors", "os-core")
	f := &fakeFetcher{subs: map[string]*manifest.Manifest{
		"devtools": {Component: "devtools", Includes: []string{"editors"}},
		"editors":  {Component: "editors", Includes: []string{"os-core"}},
		"os-core":  {Component: "os-core"},
	}}

	got, err := Recurse(f, mom, []string{"devtools"})
	if err != nil {
		t.Fatalf("Recurse: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	names := []string{got[0].Component, got[1].Component, got[2].Component}
	want := []string{"devtools", "editors", "os-core"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("discovery order[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestRecurseTerminatesOnCycle(t *testing.T) {
	mom := momWithPointers("a", "b")
	f := &fakeFetcher{subs: map[string]*manifest.Manifest{
		"a": {Component: "a", Includes: []string{"b"}},
		"b": {Component: "b", Includes: []string{"a"}},
	}}

	got, err := Recurse(f, mom, []string{"a"})
	if err != nil {
		t.Fatalf("Recurse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2 (cycle must not loop forever)", len(got))
	}
}

func TestRecurseDeduplicatesSharedIncludes(t *testing.T) {
	mom := momWithPointers("devtools", "editors", "os-core")
	f := &fakeFetcher{subs: map[string]*manifest.Manifest{
		"devtools": {Component: "devtools", Includes: []string{"os-core"}},
		"editors":  {Component: "editors", Includes: []string{"os-core"}},
		"os-core":  {Component: "os-core"},
	}}

	got, err := Recurse(f, mom, []string{"devtools", "editors"})
	if err != nil {
		t.Fatalf("Recurse: %v", err)
	}
	count := 0
	for _, m := range got {
		if m.Component == "os-core" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("os-core fetched %d times, want 1", count)
	}
}

func TestRecurseMissingIncludeFails(t *testing.T) {
	mom := momWithPointers("devtools")
	f := &fakeFetcher{subs: map[string]*manifest.Manifest{
		"devtools": {Component: "devtools", Includes: []string{"ghost"}},
	}}

	if _, err := Recurse(f, mom, []string{"devtools"}); err == nil {
		t.Error("expected Recurse to fail when an include has no MoM entry")
	}
}
