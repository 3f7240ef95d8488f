package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/modechat/backend/internal/handler"
	"github.com/zhouzirui/modechat/backend/internal/service/ai"
	"github.com/zhouzirui/modechat/backend/internal/service/prompt"
	"github.com/zhouzirui/modechat/backend/internal/service/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		provider, err := ai.NewProvider(ctx, cfg.AI, logger)
		if err != nil {
			return fmt.Errorf("initialize completion provider: %w", err)
		}
		logger.Info("completion provider ready", "provider", provider.Name(), "model", cfg.AI.Model, "timeout", cfg.AI.Timeout)

		controller := session.NewController(store, prompt.NewComposer(cfg.AI.HistoryLimit), provider, cfg.AI.Timeout, logger)
		router := handler.NewRouter(store, controller, logger)

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			// a turn may wait for the provider for the full timeout
			WriteTimeout: cfg.AI.Timeout + 15*time.Second,
			IdleTimeout:  120 * time.Second,
		}

		logger.Info("chat backend listening", "addr", cfg.Server.Addr)
		return runServer(ctx, srv)
	},
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AI.Timeout+5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
