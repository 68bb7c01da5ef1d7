// Package main implements the paragraf admin CLI for syncing Lovdata
// data into the local cache and inspecting its state.
//
// Usage:
//
//	paragraf sync [--force] [--dataset lover|forskrifter] [--backfill-embeddings]
//	paragraf status [--json]
//
// Configuration is read from PARAGRAF_* environment variables; a .env
// file in the working directory is loaded first when present.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

func main() {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "sync":
		code = runSync(ctx, logger, os.Args[2:])
	case "status":
		code = runStatus(ctx, logger, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		code = exitFailure
	}

	if ctx.Err() != nil {
		code = exitInterrupted
	}
	os.Exit(code)
}

func logLevel() slog.Level {
	switch os.Getenv("PARAGRAF_LOG_LEVEL") {
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

func usage() {
	fmt.Fprint(os.Stderr, `paragraf - norsk lov- og forskriftsoppslag

Kommandoer:
  sync    Last ned og indekser lovdata fra Lovdata-hubben
  status  Vis synkroniseringsstatus for lokal cache

Kjør 'paragraf <kommando> --help' for detaljer.
`)
}
