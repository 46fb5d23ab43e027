package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/FiligranHQ/xtm-mcp/internal/config"
	"github.com/FiligranHQ/xtm-mcp/internal/crypto"
	"github.com/FiligranHQ/xtm-mcp/internal/server"

	// Import tool packages to trigger init() registration
	_ "github.com/FiligranHQ/xtm-mcp/internal/tools/ai" // AI-powered query generation
	_ "github.com/FiligranHQ/xtm-mcp/internal/tools/query"
	_ "github.com/FiligranHQ/xtm-mcp/internal/tools/relationships"
	_ "github.com/FiligranHQ/xtm-mcp/internal/tools/schema"
)

func main() {
	// A missing .env file is fine; the environment may be set directly
	_ = godotenv.Load()

	cfg := config.Load()

	flagSet := pflag.NewFlagSet("xtm-mcp", pflag.ContinueOnError)
	cfg.AddFlags(flagSet)
	generateKey := flagSet.Bool("generate-encryption-key", false, "print a new SCHEMA_CACHE_ENCRYPTION_KEY and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if *generateKey {
		key, err := crypto.GenerateKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(key)
		return
	}

	// Setup logger with configured level; stdout carries the STDIO protocol
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting OpenCTI MCP Server",
		"mode", cfg.Mode,
		"profile", cfg.Profile,
		"schema_mode", cfg.SchemaMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	// Ensure cleanup happens on exit
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error("Error during server cleanup", "error", err)
		}
	}()

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error", "error", err)
		stop()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
