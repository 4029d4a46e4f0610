// Copyright 2017 Intel Corporation
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

// Package config loads the swupd.ini configuration that describes where the
// root filesystem lives, where mutable state is kept, and where to fetch
// content from, the same way a server.ini is loaded: a compiled-in default
// overridden field-by-field by an optional ini file.
package config

import (
	"path/filepath"
	"strconv"

	"github.com/go-ini/ini"
)

// Config describes the filesystem layout and network endpoints a bundle
// operation runs against.
type Config struct {
	// Root is the live root filesystem that bundles are installed into and
	// removed from.
	Root string

	// StateDir is the mutable state root (staged/, download/, delta/, and
	// the lock file all live under it).
	StateDir string

	ContentURL string
	VersionURL string

	// Format is the on-wire manifest format version this client accepts.
	Format string
}

// BundlesDir is the tracked-bundles directory, relative to Root.
const BundlesDir = "usr/share/clear/bundles"

// defaults mirrors the compiled-in defaults of a typical server.ini,
// adapted to the client-side filesystem layout of section 6.
func defaults() Config {
	return Config{
		Root:       "/",
		StateDir:   "/var/lib/swupd",
		ContentURL: "https://cdn.example.com/update",
		VersionURL: "https://cdn.example.com/update",
		Format:     "1",
	}
}

// Load reads path (an ini file) over the compiled-in defaults. A missing
// file is not an error -- the defaults are used as-is, matching the
// teacher's "server.ini exists but couldn't be read -> use defaults" and
// "doesn't exist -> use defaults" behavior.
func Load(path string) Config {
	cfg := defaults()
	if path == "" {
		return cfg
	}

	f, err := ini.InsensitiveLoad(path)
	if err != nil {
		return cfg
	}

	section := f.Section("swupd")
	if k, err := section.GetKey("root"); err == nil {
		cfg.Root = k.Value()
	}
	if k, err := section.GetKey("statedir"); err == nil {
		cfg.StateDir = k.Value()
	}
	if k, err := section.GetKey("contenturl"); err == nil {
		cfg.ContentURL = k.Value()
	}
	if k, err := section.GetKey("versionurl"); err == nil {
		cfg.VersionURL = k.Value()
	}
	if k, err := section.GetKey("format"); err == nil {
		cfg.Format = k.Value()
	}
	return cfg
}

// BundlesPath returns the absolute tracked-bundles directory for this
// config's Root.
func (c Config) BundlesPath() string {
	return filepath.Join(c.Root, BundlesDir)
}

// StagedDir, DownloadDir, DeltaDir are the state-directory subtrees the
// Stager and Lock&Init components manage.
func (c Config) StagedDir() string   { return filepath.Join(c.StateDir, "staged") }
func (c Config) DownloadDir() string { return filepath.Join(c.StateDir, "download") }
func (c Config) DeltaDir() string    { return filepath.Join(c.StateDir, "delta") }

// LockPath is the well-known process-wide lock file.
func (c Config) LockPath() string { return filepath.Join(c.StateDir, "swupd_lock") }

// StatePath is the persisted "last version a bundle operation completed
// against" marker internal/trackedstate reads and writes.
func (c Config) StatePath() string { return filepath.Join(c.StateDir, "state.toml") }

// ManifestCachePath is where a fetched manifest blob for (version, name) is
// cached, per section 6: <state_dir>/<version>/Manifest.<name>.
func (c Config) ManifestCachePath(version uint32, name string) string {
	return filepath.Join(c.StateDir, strconv.FormatUint(uint64(version), 10), "Manifest."+name)
}
