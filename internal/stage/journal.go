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

package stage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const journalName = ".journal"

// renameJournal records each staged-to-final rename about to be attempted,
// so a process that dies mid-install can be recovered (section 9): the next
// install command runs Recover before it starts, which completes each
// unfinished rename or skips it if its staged source is already gone. It
// is truncated once a RenameAll pass finishes cleanly.
type renameJournal struct {
	f *os.File
}

func journalPath(stagedDir string) string {
	return filepath.Join(stagedDir, journalName)
}

func openJournal(stagedDir string) (*renameJournal, error) {
	f, err := os.OpenFile(journalPath(stagedDir), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &renameJournal{f: f}, nil
}

func (j *renameJournal) record(from, to string) error {
	_, err := fmt.Fprintf(j.f, "%s\t%s\n", from, to)
	if err != nil {
		return err
	}
	return j.f.Sync()
}

func (j *renameJournal) clear() error {
	if err := j.f.Truncate(0); err != nil {
		return err
	}
	_, err := j.f.Seek(0, 0)
	return err
}

func (j *renameJournal) Close() error {
	return j.f.Close()
}

// Recover replays a journal left behind by a process that died mid-rename:
// any entry whose staged source still exists is re-attempted; an entry
// whose source is already gone is assumed to have completed and is
// skipped. The journal is cleared afterward either way.
func Recover(stagedDir string) error {
	path := journalPath(stagedDir)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	var pending [][2]string
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		pending = append(pending, [2]string{parts[0], parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	for _, entry := range pending {
		from, to := entry[0], entry[1]
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
			return err
		}
		if err := os.Rename(from, to); err != nil {
			return err
		}
	}

	return os.Truncate(path, 0)
}
