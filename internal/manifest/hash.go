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

package manifest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
	"syscall"
)

// Hash is the interned content digest of a File entry: 64 hex chars (32
// bytes), all-zero for deletion tombstones.
type Hash string

// ZeroHash is the digest used for deletion tombstones.
const ZeroHash Hash = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	internMu sync.RWMutex
	interned = map[Hash]struct{}{ZeroHash: {}}
)

// intern records h as having been seen; it exists so repeated parses of the
// same content share a single allocation without requiring callers to
// thread an index around.
func intern(h Hash) Hash {
	internMu.RLock()
	if _, ok := interned[h]; ok {
		internMu.RUnlock()
		return h
	}
	internMu.RUnlock()

	internMu.Lock()
	interned[h] = struct{}{}
	internMu.Unlock()
	return h
}

// fileInfo is the subset of file metadata that feeds the hash, mirroring the
// teacher's HashFileInfo.
type fileInfo struct {
	Mode     uint32
	UID      uint32
	GID      uint32
	Size     int64
	Linkname string
}

// hasher accumulates content for the swupd-style HMAC(HMAC(stat, nil), contents)
// hash construction.
type hasher struct {
	hmac hash.Hash
}

func newHasher(info *fileInfo) (*hasher, error) {
	var data []byte
	switch info.Mode & syscall.S_IFMT {
	case syscall.S_IFREG:
	case syscall.S_IFDIR:
		info.Size = 0
		data = []byte("DIRECTORY")
	case syscall.S_IFLNK:
		info.Mode = 0
		data = []byte(info.Linkname)
		info.Size = int64(len(data))
	default:
		return nil, fmt.Errorf("manifest: unsupported file type for hashing")
	}

	stat := [40]byte{}
	putLE(stat[0:8], int64(info.Mode))
	putLE(stat[8:16], int64(info.UID))
	putLE(stat[16:24], int64(info.GID))
	// 24:32 is rdev, always zero
	putLE(stat[32:40], info.Size)

	var key [64]byte
	mac := hmac.New(sha256.New, stat[:])
	if _, err := mac.Write(nil); err != nil {
		return nil, err
	}
	hex.Encode(key[:], mac.Sum(nil))

	h := &hasher{hmac: hmac.New(sha256.New, key[:])}
	if data != nil {
		if _, err := h.hmac.Write(data); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func putLE(out []byte, in int64) {
	for i := range out {
		out[i] = byte(in & 0xff)
		in >>= 8
	}
}

func (h *hasher) Write(p []byte) (int, error) { return h.hmac.Write(p) }

func (h *hasher) Sum() Hash {
	var result [64]byte
	hex.Encode(result[:], h.hmac.Sum(nil))
	return Hash(result[:])
}

// HashFile computes the content hash of a file already present on disk, the
// same way the on-the-wire manifest hash is defined: HMAC over stat metadata,
// then HMAC of that over the file contents (or symlink target, or the literal
// string "DIRECTORY" for directories).
func HashFile(path string) (Hash, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return "", fmt.Errorf("manifest: stat %s: %w", path, err)
	}

	info := &fileInfo{
		Mode: st.Mode,
		UID:  st.Uid,
		GID:  st.Gid,
		Size: st.Size,
	}

	if st.Mode&syscall.S_IFMT == syscall.S_IFLNK {
		link, err := os.Readlink(path)
		if err != nil {
			return "", err
		}
		info.Linkname = link
	}

	h, err := newHasher(info)
	if err != nil {
		return "", fmt.Errorf("manifest: hashing %s: %w", path, err)
	}

	if st.Mode&syscall.S_IFMT == syscall.S_IFREG {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("manifest: reading %s: %w", path, err)
		}
		_, err = io.Copy(h, f)
		_ = f.Close()
		if err != nil {
			return "", fmt.Errorf("manifest: hashing contents of %s: %w", path, err)
		}
	}

	return intern(h.Sum()), nil
}
