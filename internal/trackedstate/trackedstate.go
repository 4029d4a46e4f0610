// Copyright © 2018 Intel Corporation
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

// Package trackedstate persists the small amount of state that must survive
// across invocations of the CLI but isn't part of the tracked-bundles
// directory: the last OS version a bundle operation completed against. It is
// intentionally tiny, a small toml-backed marker file in the shape of a
// mixer.state file.
package trackedstate

import (
	"bytes"
	"os"

	"github.com/BurntSushi/toml"
)

const stateFileVersion = "1.0"

// State is the persisted record.
type State struct {
	LastVersion uint32 `toml:"LAST_VERSION"`

	filename string
}

// Load reads the state file at path, returning a zero-value State (version
// 0) if it doesn't exist yet -- this is not an error, it just means no
// bundle operation has ever completed on this root.
func Load(path string) (*State, error) {
	s := &State{filename: path}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if _, err := toml.DecodeReader(f, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes the state file, creating or overwriting it.
func (s *State) Save() error {
	var buf bytes.Buffer
	buf.WriteString("#VERSION " + stateFileVersion + "\n\n")

	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return err
	}

	w, err := os.OpenFile(s.filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	_, err = buf.WriteTo(w)
	return err
}
