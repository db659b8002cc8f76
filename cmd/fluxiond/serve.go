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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxion-run/fluxion/internal/config"
	"github.com/fluxion-run/fluxion/internal/engine"
	"github.com/fluxion-run/fluxion/internal/httpserver"
	"github.com/fluxion-run/fluxion/internal/logging"
	"github.com/fluxion-run/fluxion/internal/metaapi"
	"github.com/fluxion-run/fluxion/internal/metrics"
	"github.com/fluxion-run/fluxion/internal/supervisor"
)

var (
	serveConfigPath string
	serveDir        string
	serveHost       string
	servePort       int
	serveWatch      bool
	serveH2C        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Fluxion server over a dynamic directory",
	Long: `serve loads configuration (from --config plus FLUXION_* environment
overrides), builds the worker pool declared by the configuration,
and runs the HTTP server until interrupted.

Example:

  fluxiond serve --config fluxion.toml
  fluxiond serve --dir ./app --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a fluxion.toml config file")
	serveCmd.Flags().StringVar(&serveDir, "dir", "", "dynamic directory root (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "log dynamic-directory filesystem events")
	serveCmd.Flags().BoolVar(&serveH2C, "h2c", false, "serve HTTP/2 over cleartext")
}

func runServe(cmd *cobra.Command, args []string) error {
	// config.Load rejects an empty dir, so a --dir given on the command
	// line must already be visible to it.
	if serveDir != "" {
		if err := os.Setenv("FLUXION_DIR", serveDir); err != nil {
			return err
		}
	}
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveDir != "" {
		cfg.Dir = serveDir
	}
	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(logging.HandlerType(cfg.LogFormat), parseLevel(cfg.LogLevel), os.Stderr)

	declared := cfg.DatabaseSet()
	specs, err := buildWorkerSpecs(cfg)
	if err != nil {
		return err
	}

	metricsReg := metrics.New()

	eng, err := engine.New(engine.Config{
		Dir:               cfg.Dir,
		DeclaredDatabases: declared,
		Workers:           specs,
		Logger:            logger,
		Metrics:           metricsReg,
	})
	if err != nil {
		return fmt.Errorf("fluxiond: build engine: %w", err)
	}
	defer eng.Close()

	watchCtx, cancelWatch := context.WithCancel(cmd.Context())
	defer cancelWatch()
	if serveWatch {
		go func() {
			if err := eng.Watch(watchCtx); err != nil {
				logger.Warn("watch stopped", "error", err)
			}
		}()
	}

	meta := metaapi.New(eng, metricsReg, logger)
	mux := http.NewServeMux()
	meta.Mount(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := httpserver.New(eng, httpserver.Config{
		Addr:            addr,
		MaxRequestBytes: cfg.MaxRequestBytes,
		EnableH2C:       serveH2C,
		Logger:          logger,
		MetaMux:         mux,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fluxiond listening", "addr", addr, "dir", cfg.Dir)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildWorkerSpecs translates config.Config's workerStrategy into engine
// worker specs (spec.md §6). An "all" strategy (the default) yields no
// explicit specs at all: engine.New's selector pool synthesizes the
// single all-db fallback worker on its own.
func buildWorkerSpecs(cfg *config.Config) ([]engine.WorkerSpec, error) {
	if cfg.WorkerStrategyAll || len(cfg.Workers) == 0 {
		return nil, nil
	}

	specs := make([]engine.WorkerSpec, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		var limits *supervisor.Limits
		if w.MaxInflight > 0 || w.RequestTimeoutMs > 0 {
			l := supervisor.DefaultLimits()
			if w.MaxInflight > 0 {
				l.MaxInflight = w.MaxInflight
			}
			if rt := w.RequestTimeout(); rt > 0 {
				l.RequestTimeout = rt
			}
			limits = &l
		}
		specs = append(specs, engine.WorkerSpec{
			ID:     w.ID,
			DBSet:  w.DBSet(),
			Limits: limits,
		})
	}
	return specs, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
