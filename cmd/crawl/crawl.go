// Package crawl implements the one-shot crawl command.
package crawl

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/traffic-crawler/cmd/common"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/crawler"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
)

// Command returns the crawl command.
func Command() *cobra.Command {
	var streams []string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run every configured stream once and exit",
		Long: `Fetch each stream's records newer than its watermark and older than the
seven-day safety cutoff, publish them in order, and persist the advanced
watermark. Streams run concurrently and a failure in one does not stop the
others. The command exits non-zero when any stream aborted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to get dependencies: %w", err)
			}
			defer deps.Close()

			ctx, cancel := common.SignalContext(cmd.Context())
			defer cancel()

			selected, err := deps.Streams(streams)
			if err != nil {
				return err
			}
			m, _ := common.NewMetrics()
			runner, err := deps.NewRunner(ctx, selected, m)
			if err != nil {
				return fmt.Errorf("failed to create runner: %w", err)
			}

			report := runner.RunAll(ctx)
			RenderReport(cmd.OutOrStdout(), report)
			return report.Err()
		},
	}

	cmd.Flags().StringSliceVar(&streams, "stream", nil, "only crawl the named streams (repeatable)")
	return cmd
}

// RenderReport writes one row per stream.
func RenderReport(w io.Writer, report crawler.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Stream", "State", "Pages", "Records", "Watermark", "Elapsed", "Error"})

	for _, s := range report.Streams {
		wm := "-"
		if !s.Watermark.IsZero() {
			wm = domain.FormatTimestamp(s.Watermark)
		}
		errText := ""
		if s.Err != nil {
			errText = s.Err.Error()
		}
		t.AppendRow(table.Row{
			s.Stream,
			s.State.String(),
			s.Pages,
			s.Records,
			wm,
			s.Elapsed.Round(time.Millisecond),
			errText,
		})
	}
	t.AppendFooter(table.Row{"", "", "", report.Records(), "", "", ""})
	t.Render()
}
