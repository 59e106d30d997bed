package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
)

// StreamReport is the outcome of one stream within a RunAll.
type StreamReport struct {
	Result
	Err error
}

// Report collects the outcome of every stream, in input order.
type Report struct {
	Streams []StreamReport
}

// Err joins the errors of every failed stream, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, s := range r.Streams {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", s.Stream, s.Err))
		}
	}
	return errors.Join(errs...)
}

// Failed returns the names of the streams that aborted.
func (r Report) Failed() []string {
	var names []string
	for _, s := range r.Streams {
		if s.Err != nil {
			names = append(names, s.Stream)
		}
	}
	return names
}

// Records returns the number of records published across all streams.
func (r Report) Records() int {
	total := 0
	for _, s := range r.Streams {
		total += s.Records
	}
	return total
}

// Runner runs a set of orchestrators concurrently.
type Runner struct {
	orchestrators []*Orchestrator
	log           logger.Logger
}

// NewRunner builds one orchestrator per descriptor.
func NewRunner(descs []domain.StreamDescriptor, deps Deps) (*Runner, error) {
	if len(descs) == 0 {
		return nil, errors.New("no streams configured")
	}
	seen := make(map[string]struct{}, len(descs))
	orchestrators := make([]*Orchestrator, 0, len(descs))
	for _, desc := range descs {
		if _, dup := seen[desc.Name]; dup {
			return nil, fmt.Errorf("duplicate stream %q", desc.Name)
		}
		seen[desc.Name] = struct{}{}

		o, err := New(desc, deps)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", desc.Name, err)
		}
		orchestrators = append(orchestrators, o)
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{orchestrators: orchestrators, log: log}, nil
}

// Streams returns the configured stream names.
func (r *Runner) Streams() []string {
	names := make([]string, len(r.orchestrators))
	for i, o := range r.orchestrators {
		names[i] = o.Stream()
	}
	return names
}

// RunAll runs every stream once.
func (r *Runner) RunAll(ctx context.Context) Report {
	return RunAll(ctx, r.orchestrators, r.log)
}

// RunAll runs each orchestrator in its own goroutine and waits for all of
// them. A failing stream never cancels the others.
func RunAll(ctx context.Context, orchestrators []*Orchestrator, log logger.Logger) Report {
	if log == nil {
		log = logger.NewNop()
	}
	report := Report{Streams: make([]StreamReport, len(orchestrators))}

	var wg sync.WaitGroup
	for i, o := range orchestrators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					report.Streams[i] = StreamReport{
						Result: Result{Stream: o.Stream(), State: StateAborted},
						Err:    fmt.Errorf("panic: %v", p),
					}
				}
			}()
			res, err := o.Run(ctx)
			report.Streams[i] = StreamReport{Result: res, Err: err}
		}()
	}
	wg.Wait()

	if failed := report.Failed(); len(failed) > 0 {
		log.Warn("Crawl completed with failures",
			logger.Strings("failed_streams", failed),
			logger.Int("records", report.Records()),
		)
	} else {
		log.Info("Crawl completed",
			logger.Int("streams", len(report.Streams)),
			logger.Int("records", report.Records()),
		)
	}
	return report
}
