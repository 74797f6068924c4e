package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/internal/api"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/service"
)

func newServeCmd(factory service.ComponentFactory) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the repair pipeline over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), observability.GetLogger(), cfg, factory)
		},
	}
	serveCmd.Flags().StringP("addr", "a", "", "Listen address. (Overrides config/env)")
	return serveCmd
}

// runServe blocks until ctx is cancelled.
func runServe(ctx context.Context, logger *zap.Logger, cfg *config.Config, factory service.ComponentFactory) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	var runs api.RunStore
	if components.Store != nil {
		runs = components.Store
	}
	h := api.NewHandlers(logger, components.Orchestrator, runs, components.Registry, cfg.Server.MaxBodyBytes)
	return api.NewServer(cfg.Server, api.NewRouter(h), logger).Run(ctx)
}
