// internal/cache/store.go
package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/FairForge/cryptgate/internal/config"
	"github.com/FairForge/cryptgate/internal/metrics"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	fileExt = ".jsonl"

	// maxLineSize bounds a single cache line. It sits well above what a
	// maximal request body can produce once the ciphertext is added.
	maxLineSize = 64 << 20
)

// ErrEntryTooLarge is returned by Write for a record whose encoded line
// would exceed the read-back limit
var ErrEntryTooLarge = errors.New("cache entry too large")

// Store is the durable write-behind cache. Every completed operation is
// appended to an hourly bucket file and synced before Write returns.
type Store struct {
	dir       string
	prefix    string
	bucket    time.Duration
	retention time.Duration

	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	maxLine int
	remove  func(string) error

	// serialises appends within the process
	mu sync.Mutex
}

// Option configures the store
type Option func(*Store)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithMetrics records cache writes and expiries
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) {
		s.metrics = c
	}
}

// NewStore creates the cache directory if needed
func NewStore(cfg config.CacheConfig, logger *zap.Logger, opts ...Option) (*Store, error) {
	s := &Store{
		dir:       cfg.Dir,
		prefix:    cfg.FilePrefix,
		bucket:    cfg.BucketInterval,
		retention: cfg.Retention,
		logger:    logger,
		now:       time.Now,
		maxLine:   maxLineSize,
		remove:    os.Remove,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.bucket <= 0 {
		s.bucket = time.Hour
	}
	if s.retention <= 0 {
		s.retention = 24 * time.Hour
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return s, nil
}

// Dir returns the cache directory
func (s *Store) Dir() string { return s.dir }

// Write appends rec to the current bucket file
func (s *Store) Write(rec Record) error {
	now := s.now()
	line, err := json.Marshal(Entry{Timestamp: now, Record: rec})
	if err != nil {
		s.metrics.RecordCacheWrite(kindOf(rec), false)
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if len(line) > s.maxLine {
		s.metrics.RecordCacheWrite(kindOf(rec), false)
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(line))
	}
	line = append(line, '\n')

	err = s.appendLine(s.fileFor(now), line)
	s.metrics.RecordCacheWrite(kindOf(rec), err == nil)
	return err
}

func (s *Store) appendLine(path string, line []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open cache file: %w", err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append cache entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync cache file: %w", err)
	}
	return nil
}

// fileFor returns {dir}/{prefix}_{bucket}.jsonl for t
func (s *Store) fileFor(t time.Time) string {
	width := int64(s.bucket / time.Second)
	if width < 1 {
		width = 1
	}
	bucket := t.Unix() / width
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d%s", s.prefix, bucket, fileExt))
}

type cacheFile struct {
	path   string
	bucket int64
}

// files lists this store's cache files in bucket order
func (s *Store) files() ([]cacheFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	var out []cacheFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, s.prefix+"_") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, s.prefix+"_"), fileExt), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, cacheFile{path: filepath.Join(s.dir, name), bucket: n})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].bucket < out[j].bucket })
	return out, nil
}

// ReadAll returns every decodable entry across all cache files, oldest
// bucket first and in append order within a file. Malformed or oversized
// lines and unreadable files are logged and skipped.
func (s *Store) ReadAll() ([]Entry, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, cf := range files {
		entries = append(entries, s.readFile(cf.path)...)
	}
	return entries, nil
}

func (s *Store) readFile(path string) []Entry {
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn("skipping unreadable cache file", zap.String("file", name), zap.Error(err))
		return nil
	}
	defer func() { _ = f.Close() }()

	var entries []Entry
	r := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	for {
		line, tooLong, err := readLine(r, s.maxLine)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("stopped reading cache file",
					zap.String("file", name),
					zap.Int("line", lineNo+1),
					zap.Error(err))
			}
			return entries
		}
		lineNo++

		if tooLong {
			s.logger.Warn("skipping oversized cache line",
				zap.String("file", name),
				zap.Int("line", lineNo),
				zap.Int("limit", s.maxLine))
			continue
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			s.logger.Warn("skipping malformed cache line",
				zap.String("file", name),
				zap.Int("line", lineNo),
				zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
}

// readLine returns the next line without its terminator. A line longer
// than limit is consumed in full but not buffered; tooLong reports it.
func readLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var line []byte
	tooLong, partial := false, false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if partial {
				// the file ended right after a buffer-sized chunk
				return line, tooLong, nil
			}
			return nil, false, err
		}
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
		partial = true
	}
}

// CleanExpired removes cache files whose modification time is older than
// the retention window. A file that cannot be removed is logged and the
// sweep moves on; the combined error is returned.
func (s *Store) CleanExpired() error {
	files, err := s.files()
	if err != nil {
		return err
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	var errs error
	for _, cf := range files {
		info, err := os.Stat(cf.path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := s.remove(cf.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove expired cache file",
				zap.String("file", filepath.Base(cf.path)), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
		s.logger.Info("removed expired cache file", zap.String("file", filepath.Base(cf.path)))
	}

	s.metrics.RecordCacheExpired(removed)
	return errs
}

// Run sweeps expired files immediately and then once per retention
// window until ctx is done
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.retention)
	defer ticker.Stop()

	for {
		if err := s.CleanExpired(); err != nil {
			s.logger.Error("cache sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func kindOf(rec Record) string {
	if rec == nil {
		return "unknown"
	}
	return strings.ToLower(rec.kind())
}
