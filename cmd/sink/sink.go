// Package sink implements the consumer that loads published records into
// PostgreSQL.
package sink

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/traffic-crawler/cmd/common"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/config"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/database"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/sink"
)

// ErrUnsupportedBackend is returned when records are not published to Redis streams.
var ErrUnsupportedBackend = errors.New("sink requires the redis publisher backend")

// Command returns the sink command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "sink",
		Short: "Consume published records into PostgreSQL",
		Long: `Read every stream through a Redis consumer group and upsert each record
into the relational store. Messages are acknowledged only after the write
succeeds, so a failed write is retried by this or another consumer.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to get dependencies: %w", err)
			}
			defer deps.Close()

			cfg := deps.Config
			if cfg.Publisher.Backend != config.BackendRedis {
				return fmt.Errorf("%w (got %q)", ErrUnsupportedBackend, cfg.Publisher.Backend)
			}

			ctx, cancel := common.SignalContext(cmd.Context())
			defer cancel()

			db, err := deps.Database(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			client, err := deps.Redis(ctx)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}

			m, reg := common.NewMetrics()
			consumer, err := sink.NewConsumer(
				client,
				cfg.Publisher.Redis.Prefix,
				cfg.Streams,
				database.NewRepository(db),
				cfg.Sink,
				m,
				deps.Logger,
			)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			common.ServeMetrics(ctx, cfg.Metrics.Address, reg, deps.Logger)
			return consumer.Run(ctx)
		},
	}
}
