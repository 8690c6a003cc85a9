package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/flightrecorder/internal/cli"
	"github.com/JonMunkholm/flightrecorder/internal/config"
	"github.com/JonMunkholm/flightrecorder/internal/core"
	_ "github.com/JonMunkholm/flightrecorder/internal/core/entities" // Register all entity types
	"github.com/JonMunkholm/flightrecorder/internal/logging"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, loadErr := config.Load()
	level, format := "info", "text"
	if loadErr == nil {
		level, format = cfg.Logging.Level, cfg.Logging.Format
	}
	// Logs go to stderr so table output on stdout stays clean
	logging.SetupWriter(os.Stderr, level, format)

	core.Seal()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.Root(ctx, &cli.Env{
		Out:     os.Stdout,
		Factory: cli.ConfigFactory{Config: cfg, LoadErr: loadErr},
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if core.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		}
		stop()
		os.Exit(1)
	}
}
