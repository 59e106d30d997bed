// Package archive stores raw Socrata pages in S3-compatible object storage
// so a crawl can be audited or replayed.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
)

// Config configures raw page archival.
type Config struct {
	Enabled   bool   `env:"ARCHIVE_ENABLED"    yaml:"enabled"`
	Endpoint  string `env:"MINIO_ENDPOINT"     yaml:"endpoint"`
	AccessKey string `env:"MINIO_ACCESS_KEY"   yaml:"access_key"`
	SecretKey string `env:"MINIO_SECRET_KEY"   yaml:"secret_key"`
	Bucket    string `env:"ARCHIVE_BUCKET"     yaml:"bucket"`
	UseSSL    bool   `env:"MINIO_USE_SSL"      yaml:"use_ssl"`
	// FailOnError makes an upload failure abort the stream's crawl.
	FailOnError bool `env:"ARCHIVE_FAIL_ON_ERROR" yaml:"fail_on_error"`
}

const defaultBucket = "traffic-raw-pages"

// Page identifies one fetched page.
type Page struct {
	Stream    string
	RunID     string
	Offset    int
	FetchedAt time.Time
	Records   []map[string]any
}

// Archiver stores raw pages.
type Archiver interface {
	Archive(ctx context.Context, page Page) error
}

// Nop discards pages.
type Nop struct{}

func (Nop) Archive(context.Context, Page) error { return nil }

// objectStore is the subset of *minio.Client used here.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOArchiver writes each page as gzipped JSON.
type MinIOArchiver struct {
	store       objectStore
	bucket      string
	failOnError bool
	log         logger.Logger
}

// New returns Nop when archival is disabled, otherwise a MinIOArchiver with
// its bucket ensured.
func New(ctx context.Context, cfg Config, log logger.Logger) (Archiver, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("archive endpoint is required when archival is enabled")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newMinIOArchiver(ctx, client, cfg, log)
}

func newMinIOArchiver(ctx context.Context, store objectStore, cfg Config, log logger.Logger) (*MinIOArchiver, error) {
	if log == nil {
		log = logger.NewNop()
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}

	exists, err := store.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err = store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		log.Info("Created archive bucket", logger.String("bucket", bucket))
	}

	return &MinIOArchiver{store: store, bucket: bucket, failOnError: cfg.FailOnError, log: log}, nil
}

// ObjectKey returns <stream>/<yyyy>/<mm>/<dd>/<run>-<offset>.json.gz.
func ObjectKey(p Page) string {
	return fmt.Sprintf("%s/%s/%s-%09d.json.gz",
		p.Stream, p.FetchedAt.UTC().Format("2006/01/02"), p.RunID, p.Offset)
}

// Archive uploads the page. Failures are logged and swallowed unless
// FailOnError is set.
func (a *MinIOArchiver) Archive(ctx context.Context, p Page) error {
	key := ObjectKey(p)
	if err := a.upload(ctx, key, p); err != nil {
		if a.failOnError {
			return fmt.Errorf("archive %s: %w", key, err)
		}
		a.log.Warn("Raw page archival failed, continuing",
			logger.Stream(p.Stream),
			logger.String("object_key", key),
			logger.Error(err),
		)
		return nil
	}
	a.log.Debug("Archived raw page",
		logger.Stream(p.Stream),
		logger.String("object_key", key),
		logger.Int("records", len(p.Records)),
	)
	return nil
}

func (a *MinIOArchiver) upload(ctx context.Context, key string, p Page) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(p.Records); err != nil {
		return fmt.Errorf("encode page: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress page: %w", err)
	}

	_, err := a.store.PutObject(ctx, a.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		UserMetadata: map[string]string{
			"stream":     p.Stream,
			"run-id":     p.RunID,
			"offset":     strconv.Itoa(p.Offset),
			"records":    strconv.Itoa(len(p.Records)),
			"fetched-at": p.FetchedAt.UTC().Format(time.RFC3339),
		},
	})
	return err
}
