// Command crewd runs the crewrun server: the job worker plus the HTTP and
// WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jdziat/crewrun"
	"github.com/jdziat/crewrun/pkg/config"
	"github.com/jdziat/crewrun/pkg/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("CREWRUN_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "crewd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	stack, err := crewrun.Open(cfg, nil, crewrun.WithLogger(logger))
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("crewd starting",
		"version", crewrun.Version,
		"addr", cfg.Server.Addr,
		"storage", cfg.Storage.Driver,
		"checkpoints", cfg.Checkpoint.Backend,
		"agent", cfg.Agent.BaseURL,
	)
	if err := stack.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("crewd stopped")
	return nil
}
