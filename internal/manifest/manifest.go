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

// Package manifest implements the pure, bytes-to-value parser for the
// manifest wire format (the MoM and per-bundle manifests), and the File/
// Manifest data model the rest of the bundle lifecycle core operates on.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileType is the kind of filesystem object a File entry describes.
type FileType int

// The four file types a manifest entry can describe.
const (
	TypeUnset FileType = iota
	TypeRegular
	TypeDirectory
	TypeSymlink
	TypeManifestPointer
)

func (t FileType) flagByte() byte {
	switch t {
	case TypeRegular:
		return 'F'
	case TypeDirectory:
		return 'D'
	case TypeSymlink:
		return 'L'
	case TypeManifestPointer:
		return 'M'
	default:
		return '.'
	}
}

func fileTypeFromFlag(b byte) (FileType, error) {
	switch b {
	case 'F':
		return TypeRegular, nil
	case 'D':
		return TypeDirectory, nil
	case 'L':
		return TypeSymlink, nil
	case 'M':
		return TypeManifestPointer, nil
	case '.':
		return TypeUnset, nil
	default:
		return TypeUnset, fmt.Errorf("manifest: invalid file type flag %q", b)
	}
}

// File is a single record owned by a manifest: one path, its content hash,
// type and flags, and (only while staging an install) the transient location
// of its staged copy.
type File struct {
	Path string
	Hash Hash
	Type FileType

	IsDeleted   bool
	DoNotUpdate bool
	IsConfig    bool
	IsState     bool
	IsBoot      bool

	// LastChange is the OS version in which this entry was introduced at its
	// current hash.
	LastChange uint32

	// Staging is the transient absolute path of the staged copy during an
	// install. Unset (empty) otherwise.
	Staging string
}

// flags encodes the 4-character flag field: type, modifier, status, rename.
// Only type + modifier + status are meaningful here; rename detection is a
// mixer-side concern this core does not perform.
func (f *File) flags() string {
	mod := byte('.')
	switch {
	case f.IsConfig:
		mod = 'C'
	case f.IsState:
		mod = 's'
	case f.IsBoot:
		mod = 'b'
	}
	status := byte('.')
	if f.IsDeleted {
		status = 'd'
	}
	return string([]byte{f.Type.flagByte(), mod, status, '.'})
}

func (f *File) setFlags(flags string) error {
	if len(flags) != 4 {
		return fmt.Errorf("manifest: invalid flag field %q", flags)
	}
	t, err := fileTypeFromFlag(flags[0])
	if err != nil {
		return err
	}
	f.Type = t

	switch flags[1] {
	case 'C':
		f.IsConfig = true
	case 's':
		f.IsState = true
	case 'b':
		f.IsBoot = true
	case '.':
	default:
		return fmt.Errorf("manifest: invalid modifier flag %q", flags[1])
	}

	switch flags[2] {
	case 'd':
		f.IsDeleted = true
	case 'g', '.':
	default:
		return fmt.Errorf("manifest: invalid status flag %q", flags[2])
	}

	return nil
}

// Manifest describes one bundle (or, when Component == MoMName, the root
// Manifest of Manifests) at a particular OS version.
type Manifest struct {
	Component string
	Version   uint32
	Files     []*File

	// Includes lists the bundle names this bundle transitively requires.
	Includes []string

	// Manifests is only populated for a MoM: one File entry with
	// Type == TypeManifestPointer per available bundle.
	Manifests []*File

	// Submanifests holds a MoM's loaded child Manifests, in discovery order.
	// No code in this module sets it: graph.Recurse returns the loaded
	// manifests to its caller instead.
	Submanifests []*Manifest

	previous    uint32
	timestamp   time.Time
	contentSize uint64
}

// MoMName is the reserved Component name of the root manifest.
const MoMName = "MoM"

const fieldDelim = "\t"

// Parse reads a Manifest from its wire representation.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	scanner := bufio.NewScanner(r)

	seen := make(map[string]bool)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break // blank line ends the header
		}
		fields := strings.Split(line, fieldDelim)
		if len(fields) < 2 {
			return nil, fmt.Errorf("manifest: malformed header line %q", line)
		}
		key := fields[0]
		if key != "includes:" && seen[key] {
			return nil, fmt.Errorf("manifest: duplicate header entry %q", key)
		}
		seen[key] = true

		if err := parseHeaderField(m, key, fields[1]); err != nil {
			return nil, err
		}
	}

	if err := checkRequiredHeader(seen); err != nil {
		return nil, err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, fieldDelim, 4)
		if len(fields) != 4 {
			return nil, fmt.Errorf("manifest: malformed file record %q", line)
		}
		if err := parseFileRecord(m, fields); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return m, nil
}

var requiredHeaderFields = []string{"MANIFEST", "version:", "previous:", "filecount:", "timestamp:", "contentsize:"}

func checkRequiredHeader(seen map[string]bool) error {
	for _, f := range requiredHeaderFields {
		if !seen[f] {
			return fmt.Errorf("manifest: missing required header field %q", f)
		}
	}
	return nil
}

func parseHeaderField(m *Manifest, key, value string) error {
	switch key {
	case "MANIFEST":
		// The format version isn't otherwise retained; it only gates parsing.
		if _, err := strconv.ParseUint(value, 10, 16); err != nil {
			return fmt.Errorf("manifest: invalid MANIFEST header: %w", err)
		}
	case "version:":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("manifest: invalid version: %w", err)
		}
		m.Version = uint32(v)
	case "previous:":
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("manifest: invalid previous: %w", err)
		}
		m.previous = uint32(v)
	case "filecount:":
		if _, err := strconv.ParseUint(value, 10, 32); err != nil {
			return fmt.Errorf("manifest: invalid filecount: %w", err)
		}
	case "timestamp:":
		ts, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("manifest: invalid timestamp: %w", err)
		}
		m.timestamp = time.Unix(ts, 0)
	case "contentsize:":
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("manifest: invalid contentsize: %w", err)
		}
		m.contentSize = v
	case "includes:":
		m.Includes = append(m.Includes, value)
	}
	return nil
}

func parseFileRecord(m *Manifest, fields []string) error {
	flags, hashField, verField, name := fields[0], fields[1], fields[2], fields[3]

	if len(flags) != 4 {
		return fmt.Errorf("manifest: invalid number of flags: %v", flags)
	}
	if len(hashField) != 64 {
		return fmt.Errorf("manifest: invalid hash: %v", hashField)
	}

	ver, err := strconv.ParseUint(verField, 10, 32)
	if err != nil {
		return fmt.Errorf("manifest: invalid version field: %w", err)
	}

	f := &File{Path: name, LastChange: uint32(ver), Hash: intern(Hash(hashField))}
	if err := f.setFlags(flags); err != nil {
		return fmt.Errorf("manifest: invalid flags in record for %s: %w", name, err)
	}

	if f.Type == TypeManifestPointer {
		m.Manifests = append(m.Manifests, f)
	} else {
		m.Files = append(m.Files, f)
	}
	return nil
}

// ParseFile reads and parses the Manifest stored at path. The bundle name is
// derived from the filename (the part after the last "Manifest." prefix), as
// cached manifest blobs are <state_dir>/<version>/Manifest.<name>.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	m, err := Parse(f)
	if err != nil {
		return nil, err
	}
	m.Component = componentFromFilename(path)
	return m, nil
}

func componentFromFilename(path string) string {
	const prefix = "Manifest."
	base := filepath.Base(path)
	if idx := strings.Index(base, prefix); idx != -1 {
		return base[idx+len(prefix):]
	}
	return base
}
