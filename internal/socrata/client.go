// Package socrata reads Socrata Open Data (SODA) datasets page by page.
package socrata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/retry"
)

const (
	defaultTimeout   = 2 * time.Minute
	defaultUserAgent = "traffic-crawler/1.0"
	appTokenHeader   = "X-App-Token"
)

// Config configures the SODA client.
type Config struct {
	// AppToken raises Socrata's throttling limits when set.
	AppToken  string        `env:"SOCRATA_APP_TOKEN" yaml:"app_token"`
	Timeout   time.Duration `env:"SOCRATA_TIMEOUT"   yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	// RequestsPerSecond caps outgoing requests across all streams. Zero means unlimited.
	RequestsPerSecond float64      `env:"SOCRATA_REQUESTS_PER_SECOND" yaml:"requests_per_second"`
	Retry             retry.Config `yaml:"retry"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	c.Retry.SetDefaults()
}

// HTTPDoer is the subset of *http.Client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues SODA queries.
type Client struct {
	http    HTTPDoer
	cfg     Config
	limiter *rate.Limiter
	log     logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) { c.http = doer }
}

// NewClient creates a SODA client.
func NewClient(cfg Config, log logger.Logger, opts ...Option) *Client {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NewNop()
	}

	c := &Client{
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
		log:  log,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pages returns a lazy page sequence over desc for the range (lower, cutoff].
func (c *Client) Pages(desc domain.StreamDescriptor, lower *time.Time, cutoff time.Time) *Pager {
	return &Pager{
		client: c,
		desc:   desc,
		where:  BuildWhere(desc.DateField, lower, cutoff),
		order:  BuildOrder(desc.DateField),
		limit:  desc.Limit(),
	}
}

// fetch retrieves one page, retrying temporary failures.
func (c *Client) fetch(ctx context.Context, desc domain.StreamDescriptor, query url.Values, offset int) ([]map[string]any, error) {
	var page []map[string]any

	onRetry := func(attempt int, delay time.Duration, err error) {
		c.log.Warn("Retrying Socrata request",
			logger.Stream(desc.Name),
			logger.Int("offset", offset),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err),
		)
	}

	err := retry.Do(ctx, c.cfg.Retry, onRetry, func(ctx context.Context) error {
		var fetchErr *FetchError
		page, fetchErr = c.fetchOnce(ctx, desc, query, offset)
		if fetchErr == nil {
			return nil
		}
		if !fetchErr.Temporary() || ctx.Err() != nil {
			return retry.Permanent(fetchErr)
		}
		return fetchErr
	})
	if err != nil {
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			return nil, &FetchError{Stream: desc.Name, URL: desc.URL, Offset: offset, Err: err}
		}
		if error(fetchErr) != err {
			// Exhausted or cancelled: keep the response details, expose the whole chain.
			wrapped := *fetchErr
			wrapped.Err = err
			return nil, &wrapped
		}
		return nil, fetchErr
	}
	return page, nil
}

func (c *Client) fetchOnce(
	ctx context.Context, desc domain.StreamDescriptor, query url.Values, offset int,
) ([]map[string]any, *FetchError) {
	fail := func(status int, body []byte, err error) *FetchError {
		return &FetchError{
			Stream:     desc.Name,
			URL:        desc.URL,
			Offset:     offset,
			StatusCode: status,
			Body:       truncateBody(body),
			Err:        err,
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fail(0, nil, fmt.Errorf("rate limiter: %w", err))
		}
	}

	reqURL, err := url.Parse(desc.URL)
	if err != nil {
		return nil, fail(0, nil, fmt.Errorf("parse url: %w", err))
	}
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), http.NoBody)
	if err != nil {
		return nil, fail(0, nil, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.AppToken != "" {
		req.Header.Set(appTokenHeader, c.cfg.AppToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(0, nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
		return nil, fail(resp.StatusCode, body, fmt.Errorf("status %s", resp.Status))
	}

	var page []map[string]any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err = dec.Decode(&page); err != nil {
		return nil, fail(0, nil, fmt.Errorf("%w: %w", ErrDecode, err))
	}
	if page == nil {
		return nil, fail(0, nil, fmt.Errorf("%w: body is not an array", ErrDecode))
	}
	return page, nil
}

func pageQuery(where, order string, limit, offset int) url.Values {
	q := url.Values{}
	q.Set("$where", where)
	q.Set("$order", order)
	q.Set("$limit", strconv.Itoa(limit))
	q.Set("$offset", strconv.Itoa(offset))
	return q
}
