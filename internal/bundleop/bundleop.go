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

// Package bundleop implements the three top-level state machines of
// section 4.7 -- list, install, remove -- composing the lock, subscription,
// fetch, graph, consolidate and stage packages.
//
// Per the design notes' REDESIGN FLAGS, state that the original threads
// through module-level globals is instead carried explicitly in a
// BundleContext value passed to each operation.
package bundleop

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/clearlinux/bundle-updater/internal/config"
	"github.com/clearlinux/bundle-updater/internal/consolidate"
	"github.com/clearlinux/bundle-updater/internal/errcode"
	"github.com/clearlinux/bundle-updater/internal/fetch"
	"github.com/clearlinux/bundle-updater/internal/graph"
	"github.com/clearlinux/bundle-updater/internal/lock"
	"github.com/clearlinux/bundle-updater/internal/logging"
	"github.com/clearlinux/bundle-updater/internal/manifest"
	"github.com/clearlinux/bundle-updater/internal/packs"
	"github.com/clearlinux/bundle-updater/internal/stage"
	"github.com/clearlinux/bundle-updater/internal/subscription"
	"github.com/clearlinux/bundle-updater/internal/trackedstate"
)

// osCore is the implicit bundle every system carries; it is never a valid
// removal target (section 3's invariants).
const osCore = "os-core"

// VersionDiscoverer is the out-of-scope version-discovery collaborator:
// it tells the core which OS version the running system is currently on.
type VersionDiscoverer interface {
	CurrentVersion() (uint32, error)
}

// BundleContext carries everything an operation needs, in place of the
// module-level globals the original mutates.
type BundleContext struct {
	Cfg     config.Config
	Fetcher *fetch.Fetcher
	Blobs   stage.BlobSource
	Version VersionDiscoverer

	// Packs fetches a bundle's content pack ahead of staging. Nil is
	// accepted (tests that pre-populate Blobs directly have no need of
	// it); a live CLI always sets it.
	Packs PackFetcher
}

// PackFetcher retrieves and caches the content pack for one bundle at one
// version, so the Stager's BlobSource lookups that follow can be served
// from local disk. internal/packs.Source satisfies this.
type PackFetcher interface {
	FetchPack(version uint32, bundleName string) (packs.PackInfo, error)
}

func (c *BundleContext) init() (*lock.Handle, uint32, *manifest.Manifest, error) {
	h, err := lock.Acquire(c.Cfg)
	if err != nil {
		return nil, 0, nil, err
	}

	version, err := c.Version.CurrentVersion()
	if err != nil {
		_ = h.Release()
		return nil, 0, nil, errcode.Wrap(errcode.CurrentVersion, err, "couldn't discover current OS version")
	}
	c.Fetcher.SetCurrentVersion(version)

	mom, err := c.Fetcher.FetchMoM(version)
	if err != nil {
		_ = h.Release()
		return nil, 0, nil, err
	}

	return h, version, mom, nil
}

// List implements section 4.7's list: every bundle named in the MoM.
func List(ctx *BundleContext) ([]string, error) {
	h, _, mom, err := ctx.init()
	if err != nil {
		return nil, err
	}
	defer func() { _ = h.Release() }()

	names := make([]string, 0, len(mom.Manifests))
	for _, f := range mom.Manifests {
		names = append(names, f.Path)
	}
	return names, nil
}

// SubscriptionKind tags the outcome of addSubscriptions, in place of the
// original's overloaded tri-state integer (design notes' REDESIGN FLAGS).
type SubscriptionKind int

const (
	SubscriptionAdded SubscriptionKind = iota
	SubscriptionNoNew
	SubscriptionFailed
)

// SubscriptionResult is the tagged variant {Added, NoNew, Failed(kind)}
// the design notes call for.
type SubscriptionResult struct {
	Kind SubscriptionKind
	Err  error // meaningful only when Kind == SubscriptionFailed
}

func pointerInMoM(mom *manifest.Manifest, name string) *manifest.File {
	for _, f := range mom.Manifests {
		if f.Path == name {
			return f
		}
	}
	return nil
}

// addSubscriptions recursively subscribes names and everything they
// transitively include, per section 4.7 step 2. An invalid name is skipped
// with a warning rather than failing the whole operation; a manifest that
// fails to load for a valid name fails the whole operation.
func addSubscriptions(ctx *BundleContext, subs *subscription.Set, names []string, mom *manifest.Manifest) SubscriptionResult {
	added := false
	visited := make(map[string]bool)

	var addOne func(name string) error
	addOne = func(name string) error {
		if visited[name] {
			return nil
		}
		visited[name] = true

		ptr := pointerInMoM(mom, name)
		if ptr == nil {
			logging.Warning(logging.Bundle, "skipping unknown bundle %q", name)
			return nil
		}

		m, err := ctx.Fetcher.FetchSub(mom.Version, name, string(ptr.Hash))
		if err != nil {
			return err
		}

		for _, inc := range m.Includes {
			if err := addOne(inc); err != nil {
				return err
			}
		}

		if !subs.Contains(name) && !subscription.IsTracked(ctx.Cfg.BundlesPath(), name) {
			subs.Subscribe(name)
			added = true
		}
		return nil
	}

	for _, name := range names {
		if err := addOne(name); err != nil {
			return SubscriptionResult{Kind: SubscriptionFailed, Err: err}
		}
	}

	if !added {
		return SubscriptionResult{Kind: SubscriptionNoNew}
	}
	return SubscriptionResult{Kind: SubscriptionAdded}
}

// Install implements section 4.7's install(names[]).
func Install(ctx *BundleContext, names []string) error {
	h, _, mom, err := ctx.init()
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()

	subs, err := subscription.LoadTracked(ctx.Cfg.BundlesPath())
	if err != nil {
		return errcode.Wrap(errcode.Init, err, "couldn't load tracked bundles")
	}

	result := addSubscriptions(ctx, subs, names, mom)
	switch result.Kind {
	case SubscriptionFailed:
		return errcode.Wrap(errcode.BundleInstall, result.Err, "couldn't resolve requested bundles")
	case SubscriptionNoNew:
		return errcode.New(errcode.BundleInstall, "nothing to do: all requested bundles are already tracked")
	}

	subs.SetVersionsFromMoM(mom)

	toInstall, err := graph.Recurse(ctx.Fetcher, mom, subs.Names())
	if err != nil {
		return err
	}
	toInstallFiles := consolidate.Consolidate(consolidate.FilesFrom(toInstall))

	if err := os.RemoveAll(ctx.Cfg.DownloadDir()); err != nil {
		return errcode.Wrap(errcode.BundleInstall, err, "couldn't clear download directory")
	}
	if err := os.MkdirAll(ctx.Cfg.DownloadDir(), 0700); err != nil {
		return errcode.Wrap(errcode.BundleInstall, err, "couldn't recreate download directory")
	}
	if ctx.Packs != nil {
		for _, name := range subs.Names() {
			info, err := ctx.Packs.FetchPack(mom.Version, name)
			if err != nil {
				return errcode.Wrap(errcode.BundleInstall, err, "couldn't fetch pack for "+name)
			}
			logging.Info(logging.Bundle, "fetched pack for %s: %d files, %d bytes", name, info.FileCount, info.PackBytes)
		}
	}

	freshSubs, err := subscription.LoadTracked(ctx.Cfg.BundlesPath())
	if err != nil {
		return errcode.Wrap(errcode.BundleInstall, err, "couldn't reload tracked bundles")
	}
	for _, name := range subs.Names() {
		freshSubs.Subscribe(name)
	}
	allSub, err := graph.Recurse(ctx.Fetcher, mom, freshSubs.Names())
	if err != nil {
		return err
	}
	currentFiles := consolidate.Consolidate(consolidate.FilesFrom(allSub))

	stager := stage.New(ctx.Cfg, ctx.Blobs)
	if err := stager.StageAll(toInstallFiles, currentFiles); err != nil {
		return err
	}
	if err := stager.RenameAll(toInstallFiles); err != nil {
		return err
	}
	stage.Sync()

	// The tracked-bundles marker commits together with the rename pass, not
	// after RunScripts: a bundle's content is already durably live once
	// RenameAll returns, so is_tracked() must agree before any post-install
	// script gets a chance to fail.
	for _, name := range subs.Names() {
		if err := writeMarker(ctx.Cfg, name); err != nil {
			return errcode.Wrap(errcode.BundleInstall, err, "couldn't write tracked-bundles marker for "+name)
		}
	}

	if err := stager.RunScripts(); err != nil {
		return errcode.Wrap(errcode.BundleInstall, err, "post-install scripts failed")
	}

	state, err := trackedstate.Load(ctx.Cfg.StatePath())
	if err != nil {
		return errcode.Wrap(errcode.BundleInstall, err, "couldn't load tracked state")
	}
	state.LastVersion = mom.Version
	if err := state.Save(); err != nil {
		return errcode.Wrap(errcode.BundleInstall, err, "couldn't persist tracked state")
	}

	return nil
}

// Remove implements section 4.7's remove(name).
func Remove(ctx *BundleContext, name string) error {
	if name == osCore {
		return errcode.New(errcode.BundleNotTracked, "os-core may not be removed")
	}

	h, _, mom, err := ctx.init()
	if err != nil {
		return err
	}
	defer func() { _ = h.Release() }()

	if !subscription.IsTracked(ctx.Cfg.BundlesPath(), name) {
		return errcode.New(errcode.BundleNotTracked, fmt.Sprintf("bundle %q is not tracked", name))
	}

	if pointerInMoM(mom, name) == nil {
		return errcode.New(errcode.BundleRemove, fmt.Sprintf("bundle %q has no entry in the current MoM", name))
	}

	subs, err := subscription.LoadTracked(ctx.Cfg.BundlesPath())
	if err != nil {
		return errcode.Wrap(errcode.Init, err, "couldn't load tracked bundles")
	}
	if err := subs.Unsubscribe(name); err != nil {
		return err
	}
	subs.SetVersionsFromMoM(mom)

	remaining, err := graph.Recurse(ctx.Fetcher, mom, subs.Names())
	if err != nil {
		return err
	}
	for _, m := range remaining {
		for _, inc := range m.Includes {
			if inc == name {
				return errcode.New(errcode.BundleRemove, fmt.Sprintf("bundle %q is still required by %q", name, m.Component))
			}
		}
	}

	retainSet := consolidate.Consolidate(consolidate.FilesFrom(remaining))

	toRemove, err := graph.Single(ctx.Fetcher, mom, name)
	if err != nil {
		return err
	}
	bundleFiles := consolidate.Files(consolidate.FilesFrom(toRemove))

	survivors := consolidate.Dedup(bundleFiles, retainSet)

	stager := stage.New(ctx.Cfg, ctx.Blobs)
	stager.Unlink(survivors)

	if err := removeMarker(ctx.Cfg, name); err != nil {
		return errcode.Wrap(errcode.BundleRemove, err, "couldn't remove tracked-bundles marker for "+name)
	}

	state, err := trackedstate.Load(ctx.Cfg.StatePath())
	if err != nil {
		return errcode.Wrap(errcode.BundleRemove, err, "couldn't load tracked state")
	}
	state.LastVersion = mom.Version
	if err := state.Save(); err != nil {
		return errcode.Wrap(errcode.BundleRemove, err, "couldn't persist tracked state")
	}

	return nil
}

func markerPath(cfg config.Config, name string) string {
	return filepath.Join(cfg.BundlesPath(), name)
}

func writeMarker(cfg config.Config, name string) error {
	if err := os.MkdirAll(cfg.BundlesPath(), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(markerPath(cfg, name), os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

func removeMarker(cfg config.Config, name string) error {
	err := os.Remove(markerPath(cfg, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
