// Package watermarks implements commands that inspect and override stream
// watermarks.
package watermarks

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/traffic-crawler/cmd/common"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/watermark"
)

// Command returns the watermarks command group.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermarks",
		Short: "Inspect or override stream watermarks",
	}
	cmd.AddCommand(newListCommand(), newSetCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the persisted watermark of every stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to get dependencies: %w", err)
			}
			defer deps.Close()

			store, err := deps.WatermarkStore(cmd.Context())
			if err != nil {
				return err
			}
			streams := make([]string, 0, len(deps.Config.Streams))
			for _, s := range deps.Config.Streams {
				streams = append(streams, s.Name)
			}
			return List(cmd.Context(), cmd.OutOrStdout(), store, streams, time.Now())
		},
	}
}

// List renders every known watermark, including configured streams that
// have none yet.
func List(ctx context.Context, w io.Writer, store watermark.Store, streams []string, now time.Time) error {
	all, err := store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to read watermarks: %w", err)
	}

	names := make([]string, 0, len(all)+len(streams))
	seen := make(map[string]struct{}, len(all)+len(streams))
	for _, name := range streams {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	for name := range all {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Stream", "Watermark", "Age"})
	for _, name := range names {
		ts, ok := all[name]
		if !ok {
			t.AppendRow(table.Row{name, "-", "-"})
			continue
		}
		t.AppendRow(table.Row{name, domain.FormatTimestamp(ts), now.Sub(ts).Truncate(time.Hour).String()})
	}
	t.Render()
	return nil
}

func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <stream> <timestamp>",
		Short: "Overwrite a stream's watermark",
		Long: `Overwrite a stream's watermark with a timestamp in the form
2006-01-02T15:04:05. The next crawl of that stream fetches records strictly
after it. Moving a watermark backwards causes records to be published again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to get dependencies: %w", err)
			}
			defer deps.Close()

			if _, ok := deps.Config.Stream(args[0]); !ok {
				return fmt.Errorf("%w: %s", common.ErrUnknownStream, args[0])
			}
			ts, err := domain.ParseTimestamp(args[1])
			if err != nil {
				return err
			}

			store, err := deps.WatermarkStore(cmd.Context())
			if err != nil {
				return err
			}
			if err = store.Set(cmd.Context(), args[0], ts); err != nil {
				return err
			}
			deps.Logger.Info("Watermark overwritten",
				logger.Stream(args[0]),
				logger.String("watermark", domain.FormatTimestamp(ts)),
			)
			return nil
		},
	}
}
