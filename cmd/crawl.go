package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run workers against the shared queue until interrupted",
		Long: `Starts the crawl engine: workers take requests from the queue, download
them, extract follow-up requests and items, and push items through the
pipeline. Several crawl processes may share one Redis queue.`,
		Args: cobra.NoArgs,
		RunE: runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := a.Ping(ctx); err != nil {
		return err
	}

	d, err := a.Dispatcher(ctx)
	if err != nil {
		return err
	}

	if a.Config.Server.Enabled {
		srv := a.APIServer()
		go func() {
			a.Logger.Info("ops server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Error("ops server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.Logger.Warn("ops server shutdown", zap.Error(err))
			}
		}()
	}

	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	a.Logger.Info("crawl finished")
	return nil
}
