// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package cli implements the passkey command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	configFile   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "passkey",
	Short: "Passkey relying party server and credential management",
	Long: `passkey runs a WebAuthn relying party service and manages the
credential records it stores.

The server exposes registration and authentication ceremony endpoints plus
credential management over HTTP. The credential subcommands operate directly
on the storage backend named in the configuration file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is built-in development config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text",
		"output format: text or json")
}
