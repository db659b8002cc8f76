// Copyright 2026 The Fluxion Authors
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

package fluxiond

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxion-run/fluxion/internal/archiveinstall"
)

var installDestRoot string

var installCmd = &cobra.Command{
	Use:   "install <archive>",
	Short: "Extract a module archive into the dynamic directory",
	Long: `install extracts a .tar, .tar.gz, or .tgz module archive into
--dest, detecting whether the archive is laid out "nested" (a single
top-level directory names the module) or "flat" (the archive's own
base name is the module name).

Example:

  fluxiond install widgets.tar.gz --dest ./app`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVar(&installDestRoot, "dest", ".", "directory to install the module under")
}

func runInstall(cmd *cobra.Command, args []string) error {
	result, err := archiveinstall.Install(args[0], installDestRoot)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "installed %q (%s layout, %d files) -> %s\n",
		result.ModuleName, result.Layout, result.FileCount, result.Dest)
	return nil
}
