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

// Package graph implements the manifest graph resolver (section 4.4): the
// transitive closure of a bundle's includes.
//
// Per the design notes' REDESIGN FLAGS, the traversal is an explicit
// worklist with a visited set (stringset.Set) rather than the recursion +
// implicit-subscription-set visited tracking of the original.
package graph

import (
	"github.com/clearlinux/bundle-updater/internal/errcode"
	"github.com/clearlinux/bundle-updater/internal/manifest"
	"github.com/clearlinux/bundle-updater/internal/stringset"
)

// SubFetcher loads a single bundle manifest, given the MoM that names it.
// internal/fetch.Fetcher.FetchSub satisfies this.
type SubFetcher interface {
	FetchSub(version uint32, name, expectedHash string) (*manifest.Manifest, error)
}

func pointerFor(mom *manifest.Manifest, name string) *manifest.File {
	for _, f := range mom.Manifests {
		if f.Path == name {
			return f
		}
	}
	return nil
}

// Single returns a singleton list containing the sub-manifest for bundle
// name, with no transitive expansion -- used by remove, which only needs
// the one bundle's own files.
func Single(fetcher SubFetcher, mom *manifest.Manifest, name string) ([]*manifest.Manifest, error) {
	ptr := pointerFor(mom, name)
	if ptr == nil {
		return nil, errcode.New(errcode.RecurseManifest, "bundle "+name+" has no entry in the MoM")
	}
	m, err := fetcher.FetchSub(mom.Version, name, string(ptr.Hash))
	if err != nil {
		return nil, errcode.Wrap(errcode.RecurseManifest, err, "couldn't load manifest for "+name)
	}
	return []*manifest.Manifest{m}, nil
}

// Recurse loads the sub-manifest for every name in roots and every bundle
// transitively referenced by their Includes, returning them in discovery
// order. A bundle already visited is never reloaded, which also makes
// cyclic includes terminate.
func Recurse(fetcher SubFetcher, mom *manifest.Manifest, roots []string) ([]*manifest.Manifest, error) {
	visited := stringset.New()
	var result []*manifest.Manifest

	worklist := append([]string(nil), roots...)
	for len(worklist) > 0 {
		name := worklist[0]
		worklist = worklist[1:]

		if visited.Contains(name) {
			continue
		}
		visited.Add(name)

		ptr := pointerFor(mom, name)
		if ptr == nil {
			return nil, errcode.New(errcode.RecurseManifest, "bundle "+name+" has no entry in the MoM")
		}
		m, err := fetcher.FetchSub(mom.Version, name, string(ptr.Hash))
		if err != nil {
			return nil, errcode.Wrap(errcode.RecurseManifest, err, "couldn't load manifest for "+name)
		}
		result = append(result, m)

		worklist = append(worklist, m.Includes...)
	}

	return result, nil
}
