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

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/clearlinux/bundle-updater/internal/bundleop"
	"github.com/clearlinux/bundle-updater/internal/errcode"
	"github.com/clearlinux/bundle-updater/internal/stage"
)

var installCmd = &cobra.Command{
	Use:   "install <bundle>...",
	Short: "Install one or more bundles and their transitive includes",
	Long: `install adds the given bundles, and everything they transitively
include, to this system.

If a previous install was interrupted, the rename journal under
<state_dir>/staged/.journal is replayed before this run begins -- a
re-run after an interruption is always safe and expected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := newContext()
		if err := stage.Recover(ctx.Cfg.StagedDir()); err != nil {
			return errcode.Wrap(errcode.Init, err, "couldn't replay the rename journal")
		}
		return bundleop.Install(ctx, args)
	},
}

func init() {
	RootCmd.AddCommand(installCmd)
}
