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

// Package cmd is the CLI front end: it parses arguments and passes them
// through to internal/bundleop, per section 6's CLI surface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/clearlinux/bundle-updater/internal/bundleop"
	"github.com/clearlinux/bundle-updater/internal/config"
	"github.com/clearlinux/bundle-updater/internal/fetch"
	"github.com/clearlinux/bundle-updater/internal/logging"
	"github.com/clearlinux/bundle-updater/internal/osversion"
	"github.com/clearlinux/bundle-updater/internal/packs"
	"github.com/clearlinux/bundle-updater/internal/verify"
)

var configFile string
var keyringFile string

// RootCmd is the base command; list/install/remove are its subcommands.
var RootCmd = &cobra.Command{
	Use:           "swupd-bundle",
	Short:         "Manage bundles on a running Clear Linux-style system",
	Long:          `swupd-bundle lists, installs and removes OS bundles against a content server described by swupd.ini.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to swupd.ini (compiled-in defaults if unset)")
	RootCmd.PersistentFlags().StringVar(&keyringFile, "keyring", "", "path to an OpenPGP public keyring to verify the MoM's detached signature against (signature checking is skipped if unset)")
}

// newContext builds the BundleContext every subcommand runs against, from
// the process's --config and --keyring flags.
func newContext() *bundleop.BundleContext {
	cfg := config.Load(configFile)
	src := packs.New(cfg)
	f := fetch.New(cfg)
	if keyringFile != "" {
		data, err := os.ReadFile(keyringFile)
		if err != nil {
			logging.Warning(logging.Fetch, "couldn't read keyring %s, MoM signature checking stays off: %s", keyringFile, err)
		} else if ring, err := verify.LoadKeyRing(data); err != nil {
			logging.Warning(logging.Fetch, "couldn't parse keyring %s, MoM signature checking stays off: %s", keyringFile, err)
		} else {
			f.Verify = verify.PGPVerifier{KeyRing: ring}
		}
	}
	return &bundleop.BundleContext{
		Cfg:     cfg,
		Fetcher: f,
		Blobs:   src,
		Packs:   src,
		Version: osversion.Reader{},
	}
}

// Execute runs the parsed command; main.go maps any returned
// errcode.Error to the process exit status.
func Execute() error {
	return RootCmd.Execute()
}
