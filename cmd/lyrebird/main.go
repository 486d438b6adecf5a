package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quibbitz/lyrebird/pkg/brain"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "./config.json", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("Lyrebird failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	var logLevel slog.Level
	switch strings.ToLower(config.App.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	// Logs go to stderr so stdout carries only the bot's replies.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	logger.Info("Starting lyrebird", "version", Version, "commit", Commit, "build_date", BuildDate)

	db, err := openDB(config.App.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func(db *sql.DB) {
		_ = db.Close()
	}(db)

	if err = brain.SetupSchema(db); err != nil {
		return fmt.Errorf("failed to set up schema: %w", err)
	}

	b, err := brain.New(db, brain.NewWordTokenizer(), config.Brain)
	if err != nil {
		return fmt.Errorf("failed to create brain: %w", err)
	}
	defer b.Close()
	b.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model, err := b.Model(ctx, config.App.ModelName)
	if errors.Is(err, sql.ErrNoRows) {
		model, err = b.CreateModel(ctx, config.App.ModelName)
		if err != nil {
			return fmt.Errorf("failed to create model '%s': %w", config.App.ModelName, err)
		}
		logger.Info("Created model", "model_name", model.Name, "order", model.Order)
	} else if err != nil {
		return fmt.Errorf("failed to look up model '%s': %w", config.App.ModelName, err)
	}

	for _, path := range config.App.DatasetPaths {
		if err = trainDataset(ctx, b, model, path); err != nil {
			return err
		}
		logger.Info("Trained dataset", "path", path)
	}

	stats, err := b.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute stats: %w", err)
	}
	ms := stats.PerModel[model.Id]
	logger.Info("Model ready",
		"model_name", model.Name,
		"contexts", ms.Contexts,
		"successors", ms.Successors,
		"observations", ms.Observations,
		"starters", ms.Starters,
	)

	return chat(ctx, b, model, logger)
}

// trainDataset feeds one dataset file into the model.
func trainDataset(ctx context.Context, b *brain.Brain, model brain.ModelInfo, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open dataset '%s': %w", path, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	if err = b.Train(ctx, model, f); err != nil {
		return fmt.Errorf("failed to train from '%s': %w", path, err)
	}
	return nil
}

// chat runs the interactive loop: one message per line on stdin, replies (or
// silence) on stdout.
func chat(ctx context.Context, b *brain.Brain, model brain.ModelInfo, logger *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down.")
			return nil
		default:
		}

		reply, ok, err := b.Reply(ctx, model, scanner.Text())
		if err != nil {
			return fmt.Errorf("failed to generate reply: %w", err)
		}
		if ok {
			fmt.Println(reply)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin read error: %w", err)
	}
	logger.Info("Input closed, shutting down.")
	return nil
}
