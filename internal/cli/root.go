// Package cli provides the command-line interface for the chat backend.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/modechat/backend/internal/config"
	chatService "github.com/zhouzirui/modechat/backend/internal/service/chat"
	"github.com/zhouzirui/modechat/backend/internal/storage/boltdb"
	"github.com/zhouzirui/modechat/backend/internal/storage/jsonfile"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	cfg        *config.Config
	logger     *slog.Logger
	logCleanup func() error
	store      *chatService.Service
)

var rootCmd = &cobra.Command{
	Use:   "modechat",
	Short: "Mode-aware LLM chat backend",
	Long: `modechat keeps persistent chat sessions with a large-language-model provider
and shapes each prompt by mode: explain, fix or plan.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		envErr := godotenv.Load()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		logger, logCleanup = config.SetupLogger(cfg.Log)
		slog.SetDefault(logger)
		if envErr != nil {
			logger.Debug("no .env file loaded, using process environment", "error", envErr)
		}

		store, err = openStore(cmd.Context(), cfg.Store, logger)
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, chatsCmd)
}

// Execute runs the root command. The store and log file are released even
// when the command fails, since cobra skips post-run hooks after an error.
func Execute(ctx context.Context) (err error) {
	defer func() {
		if closeErr := closeResources(); err == nil {
			err = closeErr
		}
	}()
	return rootCmd.ExecuteContext(ctx)
}

func closeResources() error {
	var err error
	if store != nil {
		err = store.Close()
		store = nil
	}
	if logCleanup != nil {
		_ = logCleanup()
		logCleanup = nil
	}
	return err
}

// openStore builds the configured backend and loads it. A corrupt store
// aborts startup instead of starting from an empty history.
func openStore(ctx context.Context, storeCfg config.StoreConfig, logger *slog.Logger) (*chatService.Service, error) {
	var backend chatService.Backend
	switch storeCfg.Backend {
	case config.StoreBolt:
		b, err := boltdb.Open(storeCfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open chat store: %w", err)
		}
		backend = b
	default:
		backend = jsonfile.New(storeCfg.Path)
	}

	svc := chatService.NewService(backend, logger)
	if err := svc.Load(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("load chat store %s: %w", storeCfg.Path, err)
	}
	logger.Info("chat store ready", "backend", storeCfg.Backend, "path", storeCfg.Path)
	return svc, nil
}
