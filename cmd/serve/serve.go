// Package serve implements the read-only HTTP API command.
package serve

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/traffic-crawler/cmd/common"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/api"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/config"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/database"
)

// Command returns the serve command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve camera clusters and watermarks over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to get dependencies: %w", err)
			}
			defer deps.Close()

			ctx, cancel := common.SignalContext(cmd.Context())
			defer cancel()

			db, err := deps.Database(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			repo := database.NewRepository(db)

			checks := map[string]api.HealthChecker{
				"database": api.PingChecker("database", api.HealthStatusUnhealthy, repo.Ping),
			}
			if usesRedis(deps.Config) {
				client, redisErr := deps.Redis(ctx)
				if redisErr != nil {
					return fmt.Errorf("failed to connect to redis: %w", redisErr)
				}
				checks["redis"] = api.PingChecker("redis", api.HealthStatusDegraded, func(pingCtx context.Context) error {
					return client.Ping(pingCtx).Err()
				})
			}

			store, err := deps.WatermarkStore(ctx)
			if err != nil {
				return err
			}

			_, reg := common.NewMetrics()
			server, err := api.NewServer(deps.Config.Server, api.Deps{
				Clusters:   repo,
				Watermarks: store,
				Gatherer:   reg,
				Checks:     checks,
				Logger:     deps.Logger,
				Service:    common.ServiceName,
				Version:    common.Version,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}
			return server.Run(ctx)
		},
	}
}

func usesRedis(cfg *config.Config) bool {
	return cfg.Watermark.Backend == config.BackendRedis || cfg.Publisher.Backend == config.BackendRedis
}
