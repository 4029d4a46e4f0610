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

// Package lock implements the process-wide exclusive lock that guards a
// bundle operation against a live root, and the staging directory bootstrap
// that goes with it (section 4.1 / 5 of the design).
package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/clearlinux/bundle-updater/internal/config"
	"github.com/clearlinux/bundle-updater/internal/errcode"
)

// Handle is the held advisory lock plus the file descriptor backing it.
// Release (or process exit) drops the flock.
type Handle struct {
	file *os.File
}

// Acquire opens (creating if absent) the well-known lock file under cfg's
// state directory, takes a non-blocking exclusive flock on it, and creates
// the staging subdirectories with mode 0700. It fails immediately with
// errcode.Init if another updater already holds the lock -- there is no
// wait-queue, per section 5.
func Acquire(cfg config.Config) (*Handle, error) {
	if err := os.MkdirAll(cfg.StateDir, 0700); err != nil {
		return nil, errcode.Wrap(errcode.Init, err, "couldn't create state directory")
	}

	f, err := os.OpenFile(cfg.LockPath(), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errcode.Wrap(errcode.Init, err, "couldn't open lock file")
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, errcode.New(errcode.Init, "another bundle operation is already running (EBUSY)")
		}
		return nil, errcode.Wrap(errcode.Init, err, "couldn't acquire lock")
	}

	for _, dir := range []string{cfg.StagedDir(), cfg.DownloadDir(), cfg.DeltaDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			_ = f.Close()
			return nil, errcode.Wrap(errcode.Init, err, fmt.Sprintf("couldn't create staging directory %s", dir))
		}
	}

	return &Handle{file: f}, nil
}

// Release drops the lock. It must run on every exit path of every
// operation; callers should `defer h.Release()` immediately after Acquire
// succeeds.
func (h *Handle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	_ = unix.Flock(int(h.file.Fd()), unix.LOCK_UN)
	return h.file.Close()
}
