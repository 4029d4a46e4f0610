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

// Package fetch implements the Manifest Loader (section 4.3): retrieving
// the MoM and per-bundle manifests over HTTP(S), with the retry-with-backoff
// contract spec.md requires, and caching the raw bytes under the state
// directory the way section 6 describes.
package fetch

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/clearlinux/bundle-updater/internal/config"
	"github.com/clearlinux/bundle-updater/internal/errcode"
	"github.com/clearlinux/bundle-updater/internal/logging"
	"github.com/clearlinux/bundle-updater/internal/manifest"
)

// MaxTries bounds the retry budget of section 4.3.
const MaxTries = 3

// InitialTimeout is the sleep before the first retry; it doubles (plus
// jitter) on each subsequent attempt.
const InitialTimeout = 1 * time.Second

// Fetcher retrieves manifests and content packs from a swupd-style content
// server, caching manifest blobs under cfg.StateDir.
type Fetcher struct {
	cfg     config.Config
	client  *http.Client
	version uint32 // the current OS version, registered at init time

	// Verify, if set, checks the MoM's detached signature before its bytes
	// are parsed. A nil Verify means signature checking is skipped
	// (suitable for an offline/dev mirror only -- callers choose this
	// explicitly). internal/verify.PGPVerifier satisfies this.
	Verify Verifier
}

// Verifier checks data against a detached signature fetched alongside it
// (the sibling "Manifest.MoM.sig" blob).
type Verifier interface {
	Verify(data, signature []byte) error
}

// New builds a Fetcher against cfg's ContentURL/VersionURL.
func New(cfg config.Config) *Fetcher {
	return &Fetcher{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}}
}

// SetCurrentVersion registers the running OS version with the fetcher, as
// section 4.1 requires of Lock & Init.
func (f *Fetcher) SetCurrentVersion(v uint32) { f.version = v }

// Retry runs op up to MaxTries times, sleeping and doubling the timeout
// (plus jitter) between attempts, per section 4.3's retry policy. It is
// exported so other fetch-shaped collaborators (the pack downloader) share
// the same backoff instead of reimplementing it.
func Retry(op func() error) error { return retry(op) }

func retry(op func() error) error {
	timeout := InitialTimeout
	var lastErr error
	for attempt := 1; attempt <= MaxTries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == MaxTries {
			break
		}
		logging.Debug(logging.Fetch, "attempt %d/%d failed: %s, retrying in %s", attempt, MaxTries, lastErr, timeout)
		time.Sleep(timeout)
		jitter := time.Duration(rand.Int63n(int64(timeout) / 4))
		timeout = timeout*2 + jitter
	}
	return lastErr
}

// FetchMoM retrieves and parses the MoM for version, verifying it and
// caching the raw bytes under the manifest cache path.
func (f *Fetcher) FetchMoM(version uint32) (*manifest.Manifest, error) {
	data, err := f.fetchManifestBytes(version, manifest.MoMName)
	if err != nil {
		return nil, errcode.Wrap(errcode.MoMNotFound, err, "couldn't fetch MoM")
	}
	if f.Verify != nil {
		sig, err := f.fetchManifestBytes(version, manifest.MoMName+".sig")
		if err != nil {
			return nil, errcode.Wrap(errcode.MoMNotFound, err, "couldn't fetch MoM signature")
		}
		if err := f.Verify.Verify(data, sig); err != nil {
			return nil, errcode.Wrap(errcode.MoMNotFound, err, "MoM signature verification failed")
		}
	}
	m, err := manifest.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errcode.Wrap(errcode.MoMNotFound, err, "couldn't parse MoM")
	}
	m.Component = manifest.MoMName
	return m, nil
}

// FetchSub retrieves and parses a bundle manifest, verifying its content
// hash against expectedHash (when non-empty) before parsing -- a mismatch
// is rejected without ever invoking the parser, per section 8's corrupt
// manifest scenario.
func (f *Fetcher) FetchSub(version uint32, name, expectedHash string) (*manifest.Manifest, error) {
	data, err := f.fetchManifestBytes(version, name)
	if err != nil {
		return nil, errcode.Wrap(errcode.RecurseManifest, err, fmt.Sprintf("couldn't fetch manifest for %s", name))
	}

	if expectedHash != "" {
		sum := sha256.Sum256(data)
		got := hex.EncodeToString(sum[:])
		if got != expectedHash {
			return nil, errcode.New(errcode.RecurseManifest,
				fmt.Sprintf("manifest for %s has hash %s, expected %s", name, got, expectedHash))
		}
	}

	m, err := manifest.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, errcode.Wrap(errcode.RecurseManifest, err, fmt.Sprintf("couldn't parse manifest for %s", name))
	}
	m.Component = name
	return m, nil
}

func (f *Fetcher) fetchManifestBytes(version uint32, name string) ([]byte, error) {
	cachePath := f.cfg.ManifestCachePath(version, name)
	if data, err := os.ReadFile(cachePath); err == nil {
		return data, nil
	}

	url := f.cfg.VersionURL + "/" + strconv.FormatUint(uint64(version), 10) + "/Manifest." + name

	var data []byte
	err := retry(func() error {
		resp, err := f.client.Get(url)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch: GET %s: %s", url, resp.Status)
		}
		data, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	if mkErr := os.MkdirAll(filepath.Dir(cachePath), 0700); mkErr == nil {
		_ = os.WriteFile(cachePath, data, 0640)
	}
	return data, nil
}
