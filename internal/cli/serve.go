package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"bitable-report/internal/app"
	"bitable-report/internal/db"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr, cacheDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddr = addr
			}
			if cmd.Flags().Changed("cache-dir") {
				cfg.CacheDir = cacheDir
			}

			logger := newLogger(cfg, cmd.ErrOrStderr())
			for _, w := range cfg.Warnings {
				logger.Warn(w)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := db.OpenStore(cfg.MetaDBPath, 4)
			if err != nil {
				return fmt.Errorf("open metadata store: %w", err)
			}
			defer store.Close() //nolint:errcheck

			a, err := app.New(ctx, app.Deps{Cfg: cfg, Store: store, Logger: logger})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           a.Handler,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP server listening", "addr", cfg.ListenAddr, "env", cfg.Env)
				errCh <- srv.ListenAndServe()
			}()

			var serveErr error
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					serveErr = fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
				logger.Info("shutting down")
			}

			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("http shutdown", "error", err)
			}
			_ = a.Close(shutdownCtx)
			return serveErr
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Durable report cache directory (overrides CACHE_DIR)")
	return cmd
}
