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

// Package consolidate implements the file consolidator and de-duplicator
// (section 4.5): merging per-bundle file lists into one per-path view, and
// removing entries already owned by a retained closure during remove.
package consolidate

import (
	"sort"

	"github.com/clearlinux/bundle-updater/internal/manifest"
)

// FilesFrom concatenates all submanifests' Files lists, preserving input
// order.
func FilesFrom(submanifests []*manifest.Manifest) []*manifest.File {
	var out []*manifest.File
	for _, m := range submanifests {
		out = append(out, m.Files...)
	}
	return out
}

// less implements the sort order of section 3: path ASC, version DESC,
// deleted-last, hash ASC.
func less(a, b *manifest.File) bool {
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	if a.LastChange != b.LastChange {
		return a.LastChange > b.LastChange
	}
	if a.IsDeleted != b.IsDeleted {
		return !a.IsDeleted // non-deleted sorts first
	}
	return a.Hash < b.Hash
}

// Files sorts files in place per the consolidation order and returns it
// (for chaining); this is the same slice, not a copy.
func Files(files []*manifest.File) []*manifest.File {
	sort.SliceStable(files, func(i, j int) bool { return less(files[i], files[j]) })
	return files
}

// Consolidate sorts files by (path ASC, version DESC, deleted-last, hash
// ASC) and keeps the first entry for each distinct path, producing a list
// with no two entries sharing a path (the Manifest-level invariant of
// section 3).
func Consolidate(files []*manifest.File) []*manifest.File {
	sorted := Files(append([]*manifest.File(nil), files...))

	out := make([]*manifest.File, 0, len(sorted))
	var lastPath string
	for i, f := range sorted {
		if i > 0 && f.Path == lastPath {
			continue
		}
		out = append(out, f)
		lastPath = f.Path
	}
	return out
}

// Dedup removes from bundleFiles every entry whose path is present in
// referenceFiles -- used during remove to protect files still owned by a
// bundle that remains installed. Both inputs must already be sorted
// ascending by path (Consolidate's output satisfies this); the result
// preserves bundleFiles' relative order.
func Dedup(bundleFiles, referenceFiles []*manifest.File) []*manifest.File {
	out := make([]*manifest.File, 0, len(bundleFiles))
	i, j := 0, 0
	for i < len(bundleFiles) {
		for j < len(referenceFiles) && referenceFiles[j].Path < bundleFiles[i].Path {
			j++
		}
		if j < len(referenceFiles) && referenceFiles[j].Path == bundleFiles[i].Path {
			i++
			continue
		}
		out = append(out, bundleFiles[i])
		i++
	}
	return out
}
