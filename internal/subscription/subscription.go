// Copyright © 2020 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package subscription implements the subscription set (section 4.2): the
// record of which bundles this bundle operation tracks, keyed by component
// name, with a per-bundle target version.
//
// Per the design notes' REDESIGN FLAGS, this is an explicit value threaded
// through the call graph rather than process-global mutable state; callers
// hold a *Set and pass it around.
package subscription

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/clearlinux/bundle-updater/internal/errcode"
	"github.com/clearlinux/bundle-updater/internal/manifest"
)

// Entry is one (component, version) subscription.
type Entry struct {
	Component string
	Version   uint32
}

// Set is the ordered, name-unique collection of subscriptions for the
// current bundle operation.
type Set struct {
	order   []string
	entries map[string]*Entry
}

// New returns an empty subscription set.
func New() *Set {
	return &Set{entries: make(map[string]*Entry)}
}

// LoadTracked scans bundlesDir (the tracked-bundles directory) and inserts a
// subscription at version 0 for every entry name found there.
func LoadTracked(bundlesDir string) (*Set, error) {
	s := New()
	entries, err := os.ReadDir(bundlesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	for _, e := range entries {
		s.Subscribe(e.Name())
	}
	return s, nil
}

// IsTracked reports whether a marker file for name exists under bundlesDir.
func IsTracked(bundlesDir, name string) bool {
	_, err := os.Stat(filepath.Join(bundlesDir, name))
	return err == nil
}

// Subscribe adds name if absent; a no-op if already present.
func (s *Set) Subscribe(name string) {
	if _, ok := s.entries[name]; ok {
		return
	}
	s.order = append(s.order, name)
	s.entries[name] = &Entry{Component: name}
}

// Unsubscribe removes name, or fails with errcode.BundleNotTracked if it was
// not present.
func (s *Set) Unsubscribe(name string) error {
	if _, ok := s.entries[name]; !ok {
		return errcode.New(errcode.BundleNotTracked, fmt.Sprintf("bundle %q is not subscribed", name))
	}
	delete(s.entries, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Contains reports whether name is currently subscribed.
func (s *Set) Contains(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Names returns the subscribed component names in insertion order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len reports the number of subscriptions.
func (s *Set) Len() int { return len(s.order) }

// SetVersionsFromMoM copies each subscription's version from the matching
// pointer entry in mom.Manifests (by component name). Subscriptions with no
// matching pointer are left at version 0.
func (s *Set) SetVersionsFromMoM(mom *manifest.Manifest) {
	byName := make(map[string]uint32, len(mom.Manifests))
	for _, f := range mom.Manifests {
		byName[f.Path] = f.LastChange
	}
	for _, name := range s.order {
		if v, ok := byName[name]; ok {
			s.entries[name].Version = v
		}
	}
}
