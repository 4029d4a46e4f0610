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

// Package osversion is the version-discovery collaborator (out of scope
// per section 1, but given a concrete body here so the CLI is
// compilable): it reads the running system's OS version the same way
// mcswupd's getCurrentVersion does, from /usr/lib/os-release's VERSION_ID.
package osversion

import (
	"os"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

var versionIDPattern = regexp.MustCompile(`(?m)^VERSION_ID=(\d+)\s*$`)

// Reader implements bundleop.VersionDiscoverer against an os-release file.
type Reader struct {
	Path string // defaults to /usr/lib/os-release when empty
}

// CurrentVersion parses VERSION_ID out of the os-release file.
func (r Reader) CurrentVersion() (uint32, error) {
	path := r.Path
	if path == "" {
		path = "/usr/lib/os-release"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "couldn't read os-release file")
	}

	m := versionIDPattern.FindSubmatch(data)
	if m == nil {
		return 0, errors.Errorf("no VERSION_ID found in %s", path)
	}

	v, err := strconv.ParseUint(string(m[1]), 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "invalid VERSION_ID")
	}
	return uint32(v), nil
}
