// Command stateflow runs the workflow state store as a standalone
// process.
//
// Usage:
//
//	stateflow serve                       # start the service
//	stateflow serve --config config.yaml  # with an explicit config file
//	stateflow archive                     # run one archive sweep and exit
//	stateflow version                     # show version information
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow"
	"github.com/BaSui01/stateflow/agent"
	"github.com/BaSui01/stateflow/config"
	"github.com/BaSui01/stateflow/internal/telemetry"
	"github.com/BaSui01/stateflow/types"
)

// Injected at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "archive":
		runArchive(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	logger := config.BuildLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting stateflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	sys, err := stateflow.New(cfg, defaultExecutor(logger), stateflow.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Archive.ColdStorageEnabled {
		go archiveLoop(ctx, sys, logger)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sys.Close(shutdownCtx); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
	}
	if otelProviders != nil {
		if err := otelProviders.Shutdown(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown failed", zap.Error(err))
		}
	}

	logger.Info("stateflow stopped")
}

func runArchive(args []string) {
	fs := flag.NewFlagSet("archive", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)

	logger := config.BuildLogger(cfg.Log)
	defer logger.Sync()

	sys, err := stateflow.New(cfg, defaultExecutor(logger), stateflow.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	count, err := sys.Archive(ctx)
	if err != nil {
		logger.Fatal("Archive sweep failed", zap.Error(err))
	}
	logger.Info("Archive sweep finished", zap.Int("versions_archived", count))

	if err := sys.Close(ctx); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
	}
}

// archiveLoop periodically moves expired versions to cold storage until
// the context is cancelled.
func archiveLoop(ctx context.Context, sys *stateflow.System, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := sys.Archive(ctx)
			if err != nil {
				logger.Error("Archive sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				logger.Info("Archive sweep finished", zap.Int("versions_archived", count))
			}
		}
	}
}

func loadConfig(configPath string) *config.Config {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// defaultExecutor acknowledges tasks without doing domain work. Embedders
// replace it with their own TaskExecutor; the standalone binary only
// exercises the coordination plumbing.
func defaultExecutor(logger *zap.Logger) agent.TaskExecutor {
	return agent.TaskExecutorFunc(func(_ context.Context, task *types.Task) (*types.TaskResult, error) {
		logger.Info("Task acknowledged", zap.String("task_id", task.ID), zap.String("type", task.Type))
		return &types.TaskResult{TaskID: task.ID, Status: types.TaskCompleted}, nil
	})
}

func printVersion() {
	fmt.Printf("stateflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`stateflow - versioned workflow state store

Usage:
  stateflow <command> [options]

Commands:
  serve     Start the stateflow service
  archive   Run one archive sweep and exit
  version   Show version information
  help      Show this help message

Options for 'serve' and 'archive':
  --config <path>   Path to configuration file (YAML)

Examples:
  stateflow serve
  stateflow serve --config /etc/stateflow/config.yaml
  stateflow archive --config /etc/stateflow/config.yaml
  stateflow version`)
}
