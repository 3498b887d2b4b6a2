package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"bitable-report/internal/domain"
)

const (
	filePrefix = "report_"
	fileSuffix = ".json"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// FileStore is the durable tier: one JSON file per key in a directory.
// Entries older than the TTL are deleted on read. Every read or decode
// failure is reported as a miss.
type FileStore struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	rename func(oldpath, newpath string) error
	logger *slog.Logger
}

// FileStoreOption customizes a FileStore.
type FileStoreOption func(*FileStore)

// WithFileClock overrides the time source used for TTL checks.
func WithFileClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) { s.now = now }
}

// WithRename overrides the rename used to publish a written entry.
func WithRename(rename func(oldpath, newpath string) error) FileStoreOption {
	return func(s *FileStore) { s.rename = rename }
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string, ttl time.Duration, logger *slog.Logger, opts ...FileStoreOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	s := &FileStore{
		dir:    dir,
		ttl:    ttl,
		now:    time.Now,
		rename: os.Rename,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the cache directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file an entry for key is stored in.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, filePrefix+sanitizeKey(key)+fileSuffix)
}

func sanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(key, "_")
}

// Load returns the entry for key when it exists and is within the TTL.
func (s *FileStore) Load(key string) (*domain.CacheEntry, bool) {
	path := s.Path(key)
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from a sanitized key
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("durable cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("durable cache entry unreadable", "key", key, "error", err)
		return nil, false
	}

	if s.expired(&entry) {
		s.logger.Debug("durable cache entry expired", "key", key, "fetched_at", entry.FetchedAt)
		s.remove(path)
		return nil, false
	}
	if entry.Key == "" {
		entry.Key = key
	}
	return &entry, true
}

// Save writes entry to a temp file in the cache directory and renames it over
// the final path so readers never observe a partial file. If the rename
// fails the entry is written in place and the write is logged as degraded.
func (s *FileStore) Save(entry *domain.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", entry.Key, err)
	}

	path := s.Path(entry.Key)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := s.rename(tmpPath, path); err != nil {
		s.logger.Warn("atomic cache publish failed; overwriting in place", "key", entry.Key, "error", err)
		_ = os.Remove(tmpPath)
		if werr := os.WriteFile(path, data, 0o644); werr != nil { //nolint:gosec // cache files are not secret
			return fmt.Errorf("overwrite %s: %w", path, werr)
		}
	}
	return nil
}

// Delete removes the entry for key, if present.
func (s *FileStore) Delete(key string) {
	s.remove(s.Path(key))
}

// PurgeExpired deletes every expired or unreadable entry file and returns
// how many were removed.
func (s *FileStore) PurgeExpired() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return 0, fmt.Errorf("list cache dir: %w", err)
	}

	removed := 0
	for _, path := range matches {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from Glob on the cache dir
		if err != nil {
			continue
		}
		var entry domain.CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil || s.expired(&entry) {
			if s.remove(path) {
				removed++
			}
		}
	}
	return removed, nil
}

// EntryInfo describes one durable entry file.
type EntryInfo struct {
	Key       string    `json:"key"`
	Path      string    `json:"path"`
	FetchedAt time.Time `json:"fetched_at"`
	Expired   bool      `json:"expired"`
}

// Entries lists the readable entry files in the cache directory.
func (s *FileStore) Entries() ([]EntryInfo, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}

	out := make([]EntryInfo, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from Glob on the cache dir
		if err != nil {
			continue
		}
		var entry domain.CacheEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		out = append(out, EntryInfo{Key: entry.Key, Path: path, FetchedAt: entry.FetchedAt, Expired: s.expired(&entry)})
	}
	return out, nil
}

func (s *FileStore) expired(e *domain.CacheEntry) bool {
	return s.now().Sub(e.FetchedAt) > s.ttl
}

func (s *FileStore) remove(path string) bool {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("durable cache delete failed", "path", path, "error", err)
		return false
	}
	return err == nil
}
