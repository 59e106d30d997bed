// Package crawler drives incremental crawls: one Orchestrator per stream
// reads its watermark, pages through the dataset, publishes every record and
// persists the new watermark once the range is exhausted.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/archive"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/metrics"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/publisher"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/records"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/socrata"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/watermark"
)

// PageSource yields raw pages until it returns an empty one.
type PageSource interface {
	Next(ctx context.Context) ([]map[string]any, error)
}

// Fetcher opens a page sequence for the range (lower, cutoff].
type Fetcher interface {
	Pages(desc domain.StreamDescriptor, lower *time.Time, cutoff time.Time) PageSource
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(desc domain.StreamDescriptor, lower *time.Time, cutoff time.Time) PageSource

func (f FetcherFunc) Pages(desc domain.StreamDescriptor, lower *time.Time, cutoff time.Time) PageSource {
	return f(desc, lower, cutoff)
}

// SocrataFetcher opens pages with a SODA client.
func SocrataFetcher(client *socrata.Client) Fetcher {
	return FetcherFunc(func(desc domain.StreamDescriptor, lower *time.Time, cutoff time.Time) PageSource {
		return client.Pages(desc, lower, cutoff)
	})
}

// Deps are the collaborators shared by every stream's orchestrator.
type Deps struct {
	Fetcher   Fetcher
	Publisher publisher.Publisher
	Store     watermark.Store
	// Archiver and Metrics are optional.
	Archiver archive.Archiver
	Metrics  *metrics.Metrics
	Logger   logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs the crawl for one stream.
type Orchestrator struct {
	desc      domain.StreamDescriptor
	fetcher   Fetcher
	publisher publisher.Publisher
	store     watermark.Store
	archiver  archive.Archiver
	metrics   *metrics.Metrics
	log       logger.Logger
	now       func() time.Time
}

// New builds an orchestrator for desc.
func New(desc domain.StreamDescriptor, deps Deps) (*Orchestrator, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Publisher == nil:
		return nil, errors.New("publisher is required")
	case deps.Store == nil:
		return nil, errors.New("watermark store is required")
	}

	o := &Orchestrator{
		desc:      desc,
		fetcher:   deps.Fetcher,
		publisher: deps.Publisher,
		store:     deps.Store,
		archiver:  deps.Archiver,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		now:       deps.Now,
	}
	if o.archiver == nil {
		o.archiver = archive.Nop{}
	}
	if o.log == nil {
		o.log = logger.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Stream returns the stream name.
func (o *Orchestrator) Stream() string {
	return o.desc.Name
}

// Result summarizes one run.
type Result struct {
	Stream string
	RunID  string
	State  State
	// Lower and Cutoff bound the range that was queried.
	Lower  *time.Time
	Cutoff time.Time
	Pages  int
	// Records counts records published, including those of an aborted page.
	Records int
	// Watermark is the in-memory watermark when the run ended. It was
	// persisted only when State is StateDone.
	Watermark time.Time
	Advanced  bool
	Elapsed   time.Duration
}

// Run performs one incremental crawl. Any failure aborts the run without
// touching the persisted watermark.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	started := o.now()
	res := Result{Stream: o.desc.Name, RunID: uuid.NewString(), State: StateIdle}
	log := o.log.With(logger.Stream(o.desc.Name), logger.String("run_id", res.RunID))

	err := o.run(ctx, log, &res)

	res.Elapsed = o.now().Sub(started)
	o.metrics.RunFinished(o.desc.Name, statusOf(err), res.Elapsed)
	if err != nil {
		res.State = StateAborted
		log.Error("Crawl aborted",
			logger.Int("pages", res.Pages),
			logger.Int("records", res.Records),
			logger.Error(err),
		)
		return res, err
	}

	log.Info("Crawl finished",
		logger.Int("pages", res.Pages),
		logger.Int("records", res.Records),
		logger.Bool("advanced", res.Advanced),
		logger.String("watermark", formatOptional(res.Watermark)),
		logger.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, log logger.Logger, res *Result) error {
	res.State = StateComputingRange
	previous, hasPrevious, err := o.store.Get(ctx, o.desc.Name)
	if err != nil {
		log.Warn("Watermark unreadable, crawling from the beginning", logger.Error(err))
		hasPrevious = false
	}
	if hasPrevious {
		lower := previous
		res.Lower = &lower
	}
	res.Cutoff = socrata.SafetyCutoff(o.now())

	current, hasCurrent := previous, hasPrevious
	log.Info("Crawl started",
		logger.String("lower", optionalBound(res.Lower)),
		logger.String("cutoff", domain.FormatTimestamp(res.Cutoff)),
	)

	pages := o.fetcher.Pages(o.desc, res.Lower, res.Cutoff)
	for offset := 0; ; offset += o.desc.Limit() {
		if err = ctx.Err(); err != nil {
			return err
		}

		res.State = StateFetching
		page, fetchErr := pages.Next(ctx)
		if fetchErr != nil {
			return fmt.Errorf("page at offset %d: %w", offset, fetchErr)
		}
		if len(page) == 0 {
			break
		}
		res.Pages++
		o.metrics.PageFetched(o.desc.Name)

		res.State = StatePublishing
		if err = o.archiver.Archive(ctx, archive.Page{
			Stream:    o.desc.Name,
			RunID:     res.RunID,
			Offset:    offset,
			FetchedAt: o.now(),
			Records:   page,
		}); err != nil {
			return err
		}

		recs, normErr := records.NormalizePage(o.desc.Kind, page)
		if normErr != nil {
			return fmt.Errorf("page at offset %d: %w", offset, normErr)
		}
		if err = o.publishAll(ctx, recs, res); err != nil {
			return fmt.Errorf("page at offset %d: %w", offset, err)
		}

		res.State = StateAdvancing
		if pageMax, ok := records.MaxTimestamp(recs); ok && (!hasCurrent || pageMax.After(current)) {
			current, hasCurrent = pageMax, true
		}
		log.Debug("Page published",
			logger.Int("offset", offset),
			logger.Int("records", len(recs)),
			logger.String("watermark", formatOptional(current)),
		)
	}

	res.State = StateDone
	res.Watermark = current
	res.Advanced = hasCurrent && (!hasPrevious || current.After(previous))
	if !hasCurrent {
		return nil
	}
	if err = o.store.Set(ctx, o.desc.Name, current); err != nil {
		return err
	}
	o.metrics.WatermarkPersisted(o.desc.Name, current)
	return nil
}

func (o *Orchestrator) publishAll(ctx context.Context, recs []records.Record, res *Result) error {
	for i, rec := range recs {
		if err := o.publisher.Publish(ctx, o.desc.Name, rec.ToMap()); err != nil {
			var pubErr *publisher.PublishError
			if !errors.As(err, &pubErr) {
				err = &publisher.PublishError{Stream: o.desc.Name, Err: err}
			}
			return fmt.Errorf("record %d (%s): %w", i, rec.Key(), err)
		}
		res.Records++
		o.metrics.RecordPublished(o.desc.Name)
	}
	return nil
}

func statusOf(err error) string {
	var (
		fetchErr     *socrata.FetchError
		malformedErr *records.MalformedRecordError
		publishErr   *publisher.PublishError
		ioErr        *watermark.IOError
	)
	switch {
	case err == nil:
		return metrics.StatusSuccess
	case errors.As(err, &fetchErr):
		return metrics.StatusFetchError
	case errors.As(err, &malformedErr):
		return metrics.StatusMalformed
	case errors.As(err, &publishErr):
		return metrics.StatusPublishError
	case errors.As(err, &ioErr):
		return metrics.StatusWatermarkError
	default:
		return metrics.StatusError
	}
}

func optionalBound(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return domain.FormatTimestamp(*t)
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return domain.FormatTimestamp(t)
}
