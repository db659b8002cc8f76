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

// Package fluxiond is Fluxion's command-line entrypoint: a thin cobra
// wrapper exposing "serve" (run the meta HTTP server over a dynamic
// directory) and "install" (extract a module archive into it), modeled
// on the teacher's cobra root-command structure (Yakitrak-obsidian-cli's
// cmd/root.go: package-level rootCmd, Execute() wrapping rootCmd.Execute
// with a plain stderr error line and os.Exit(1)).
package fluxiond

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fluxiond",
	Short: "fluxiond - file-based dynamic HTTP server",
	Long: `fluxiond runs Fluxion: an HTTP server whose routes, handlers, and
static files are entirely determined at runtime by the contents of a
dynamic directory on disk.`,
}

// Execute runs the root command, exiting the process with status 1 on
// error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fluxiond: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(installCmd)
}
