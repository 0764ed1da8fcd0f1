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

// passkey-server runs the standalone relying party server without the CLI
// wrapper, configured by flags and an optional YAML file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/internal/server"
	"github.com/jeremyhahn/go-passkey/pkg/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML configuration file")
		host       = flag.String("host", "", "listen host (overrides config)")
		port       = flag.Int("port", 0, "listen port (overrides config)")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger := logging.NewLogger(*debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load configuration", "error", err.Error())
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *debug {
		cfg.Logging.Level = "debug"
	}

	srv, err := server.New(cfg)
	if err != nil {
		logger.Error("initialize server", "error", err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}
