package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/domain"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// FileStore keeps every stream's watermark in one JSON object file:
//
//	{"crashes": "2024-03-01T12:00:00", "speed_cam": "2024-02-28T00:00:00"}
//
// All access goes through a mutex so concurrent Sets for different streams
// never lose each other's entries. Set also holds an advisory lock on
// <path>.lock, which extends that guarantee to other processes sharing the
// file (a running scheduler and `watermarks set`). Writes replace the file
// atomically, so readers need no lock.
type FileStore struct {
	path string
	log  logger.Logger
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore returns a store backed by path. The file is created on the first Set.
func NewFileStore(path string, log logger.Logger) *FileStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &FileStore{path: path, log: log, lock: flock.New(path + ".lock")}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, stream string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.read()
	raw, ok := entries[stream]
	if !ok || raw == "" {
		return time.Time{}, false, nil
	}
	ts, err := domain.ParseTimestamp(raw)
	if err != nil {
		s.log.Warn("Ignoring unparseable watermark",
			logger.Stream(stream),
			logger.String("value", raw),
			logger.Error(err),
		)
		return time.Time{}, false, nil
	}
	return ts, true, nil
}

func (s *FileStore) Set(_ context.Context, stream string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return &IOError{Stream: stream, Op: "write", Err: fmt.Errorf("create dir: %w", err)}
	}
	if err := s.lock.Lock(); err != nil {
		return &IOError{Stream: stream, Op: "lock", Err: err}
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("Cannot release watermark lock", logger.String("path", s.lock.Path()), logger.Error(err))
		}
	}()

	entries := s.read()
	entries[stream] = domain.FormatTimestamp(ts)

	if err := s.write(entries); err != nil {
		return &IOError{Stream: stream, Op: "write", Err: err}
	}
	return nil
}

func (s *FileStore) All(_ context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time)
	for stream, raw := range s.read() {
		if ts, err := domain.ParseTimestamp(raw); err == nil {
			out[stream] = ts
		}
	}
	return out, nil
}

// read loads the file. Missing or corrupt content yields an empty map.
func (s *FileStore) read() map[string]string {
	entries := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Cannot read watermark file", logger.String("path", s.path), logger.Error(err))
		}
		return entries
	}

	var decoded map[string]any
	if err = json.Unmarshal(data, &decoded); err != nil {
		s.log.Warn("Watermark file is malformed, treating as empty",
			logger.String("path", s.path),
			logger.Error(err),
		)
		return entries
	}
	for k, v := range decoded {
		if str, ok := v.(string); ok {
			entries[k] = str
		}
	}
	return entries
}

func (s *FileStore) write(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op once renamed

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
