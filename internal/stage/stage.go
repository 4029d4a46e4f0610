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

// Package stage implements the Stager (section 4.6): reading each file's
// content from a BlobSource, placing it under a staging prefix with hash
// verification, committing it into the root on a second pass, and the
// remove-side unlink walk.
package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/clearlinux/bundle-updater/internal/config"
	"github.com/clearlinux/bundle-updater/internal/errcode"
	"github.com/clearlinux/bundle-updater/internal/logging"
	"github.com/clearlinux/bundle-updater/internal/manifest"
)

// BlobSource fetches the raw content for a file's hash: file bytes for a
// regular file, the link target for a symlink. Directories need no blob.
type BlobSource interface {
	FetchBlob(hash manifest.Hash) (io.ReadCloser, error)
}

// IgnorePredicate lets a caller exclude additional paths from staging
// (section 4.6 step 1's "global ignore predicate"), beyond IsDeleted/
// DoNotUpdate which the Stager always honors.
type IgnorePredicate func(*manifest.File) bool

// Stager places files into a live root filesystem via staging-then-rename.
type Stager struct {
	cfg     config.Config
	blobs   BlobSource
	Ignore  IgnorePredicate
	Scripts func() error // opaque post-install hook; nil is a no-op
}

// New builds a Stager that fetches content from blobs and writes into
// cfg.Root, staging under cfg.StateDir.
func New(cfg config.Config, blobs BlobSource) *Stager {
	return &Stager{cfg: cfg, blobs: blobs}
}

func (s *Stager) stagingPath(f *manifest.File) string {
	return filepath.Join(s.cfg.StagedDir(), f.Path)
}

func (s *Stager) finalPath(f *manifest.File) string {
	return filepath.Join(s.cfg.Root, f.Path)
}

// skip reports whether f should never be staged/renamed at all (section
// 4.6 step 1).
func (s *Stager) skip(f *manifest.File) bool {
	if f.IsDeleted || f.DoNotUpdate {
		return true
	}
	if s.Ignore != nil && s.Ignore(f) {
		return true
	}
	return false
}

// StageAll stages every non-skipped file in files, attempting repair_path
// (via allFiles, the current consolidated view used to look up parent
// directory entries) on a first staging failure. It fails the whole
// operation with errcode.BundleInstall if any file still cannot be staged.
func (s *Stager) StageAll(files []*manifest.File, allFiles []*manifest.File) error {
	for _, f := range files {
		if s.skip(f) {
			continue
		}
		if err := s.stage(f); err != nil {
			logging.Debug(logging.Stage, "staging %s failed (%s), attempting repair", f.Path, err)
			if rerr := s.repairPath(f.Path, allFiles); rerr != nil {
				return errcode.Wrap(errcode.BundleInstall, rerr, "couldn't repair parent directory for "+f.Path)
			}
			if err := s.stage(f); err != nil {
				return errcode.Wrap(errcode.BundleInstall, err, "couldn't stage "+f.Path)
			}
		}
	}
	return nil
}

// stage ensures the content for f exists as a verified, correctly-moded
// staged copy, recording f.Staging.
func (s *Stager) stage(f *manifest.File) error {
	dest := s.stagingPath(f)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	_ = os.RemoveAll(dest)

	switch f.Type {
	case manifest.TypeDirectory:
		if err := os.Mkdir(dest, 0755); err != nil {
			return err
		}
	case manifest.TypeSymlink:
		target, err := s.readBlob(f.Hash)
		if err != nil {
			return err
		}
		if err := os.Symlink(string(target), dest); err != nil {
			return err
		}
	case manifest.TypeRegular:
		if err := s.stageRegular(f, dest); err != nil {
			return err
		}
	default:
		return fmt.Errorf("stage: unexpected file type for %s", f.Path)
	}

	got, err := manifest.HashFile(dest)
	if err != nil {
		return err
	}
	if got != f.Hash {
		return fmt.Errorf("stage: %s staged with hash %s, expected %s", f.Path, got, f.Hash)
	}

	f.Staging = dest
	return nil
}

func (s *Stager) stageRegular(f *manifest.File, dest string) error {
	r, err := s.blobs.FetchBlob(f.Hash)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	out, err := os.OpenFile(dest, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (s *Stager) readBlob(hash manifest.Hash) ([]byte, error) {
	r, err := s.blobs.FetchBlob(hash)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// repairPath walks the parent chain of path, creating any missing
// directories from their canonical entries in allFiles, so a subsequent
// stage retry can succeed. Each such directory is staged and committed to
// its final path right here, ahead of the rename pass.
func (s *Stager) repairPath(path string, allFiles []*manifest.File) error {
	byPath := make(map[string]*manifest.File, len(allFiles))
	for _, f := range allFiles {
		byPath[f.Path] = f
	}

	dir := filepath.Dir(path)
	var missing []string
	for dir != "/" && dir != "." {
		if _, err := os.Stat(filepath.Join(s.cfg.Root, dir)); err == nil {
			break
		}
		missing = append([]string{dir}, missing...)
		dir = filepath.Dir(dir)
	}

	for _, d := range missing {
		entry, ok := byPath[d]
		if !ok || entry.Type != manifest.TypeDirectory {
			return fmt.Errorf("stage: no manifest entry for missing parent directory %s", d)
		}
		if err := s.stage(entry); err != nil {
			return err
		}
		if err := s.rename(entry); err != nil {
			return err
		}
	}
	return nil
}

// RenameAll commits every staged file onto its final path: regular files
// and symlinks by atomic rename, directories by creating them at the final
// path (see rename). This only runs after every file in the install set
// has been staged successfully, so no user-visible path is half-written
// mid-operation.
func (s *Stager) RenameAll(files []*manifest.File) error {
	journal, err := openJournal(s.cfg.StagedDir())
	if err != nil {
		return err
	}
	defer func() { _ = journal.Close() }()

	for _, f := range files {
		if s.skip(f) || f.Staging == "" {
			continue
		}
		if f.Type != manifest.TypeDirectory {
			if err := journal.record(f.Staging, s.finalPath(f)); err != nil {
				return err
			}
		}
		if err := s.rename(f); err != nil {
			return errcode.Wrap(errcode.BundleInstall, err, "couldn't commit "+f.Path)
		}
	}
	return journal.clear()
}

func (s *Stager) rename(f *manifest.File) error {
	final := s.finalPath(f)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return err
	}
	if f.Type == manifest.TypeDirectory {
		// A staged directory holds the staged copies of its own entries,
		// so it is created at the final path rather than moved there.
		if err := os.Mkdir(final, 0755); err != nil && !os.IsExist(err) {
			return err
		}
		return nil
	}
	return os.Rename(f.Staging, final)
}

// Sync issues the whole-filesystem durability barrier required before
// scripts run.
func Sync() { syscall.Sync() }

// RunScripts invokes the opaque post-install hook, if set.
func (s *Stager) RunScripts() error {
	if s.Scripts == nil {
		return nil
	}
	return s.Scripts()
}

// Unlink removes every surviving file in a remove operation's deduplicated
// bundle file list (section 4.6's remove path). Symlinks and regular files
// are unlinked unconditionally; directories are removed only if empty --
// failure there is logged and ignored, since a non-empty directory is
// shared with other content.
func (s *Stager) Unlink(files []*manifest.File) {
	// Remove in reverse-sorted order so directory entries (which sort
	// before their contents) are attempted only after the files within
	// them are already gone.
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		path := s.finalPath(f)
		switch f.Type {
		case manifest.TypeDirectory:
			if err := os.Remove(path); err != nil {
				logging.Debug(logging.Stage, "leaving shared directory %s in place: %s", f.Path, err)
			}
		default:
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logging.Warning(logging.Stage, "couldn't remove %s: %s", f.Path, err)
			}
		}
	}
}
