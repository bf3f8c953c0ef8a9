// Package filecache is an on-disk, content-addressed LRU cache of
// downloaded remote datasets (§4.3). It is grounded directly on the
// original implementation's workers/file_cache.py: SHA-256(url)-keyed
// paths, atomic rename-into-place, access-time LRU eviction, and a
// per-file size cap enforced mid-download. The retry/backoff helper is
// adapted from ashureev-shsh-labs's internal/container/ttl.go retry idiom.
package filecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrFileTooLarge is returned when a download exceeds MaxFileBytes.
var ErrFileTooLarge = errors.New("remote file exceeds size limit")

// Config bounds a Cache's disk footprint and download behavior.
type Config struct {
	Dir              string
	MaxFileBytes     int64
	MaxCacheBytes    int64
	DownloadTimeout  time.Duration
	StaleTempFileAge time.Duration
	RetryAttempts    int
	RetryBaseDelay   time.Duration
}

// DefaultConfig mirrors the original's module-level defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		MaxFileBytes:     500 * 1024 * 1024,
		MaxCacheBytes:    1024 * 1024 * 1024,
		DownloadTimeout:  300 * time.Second,
		StaleTempFileAge: time.Hour,
		RetryAttempts:    3,
		RetryBaseDelay:   250 * time.Millisecond,
	}
}

// Cache is a disk-backed LRU keyed by SHA-256(url)+suffix. All operations
// tolerate concurrent access from multiple worker processes on the same
// directory, relying on atomic rename for publication.
type Cache struct {
	cfg        Config
	httpClient *http.Client
	logger     *logrus.Entry
}

// New constructs a Cache, creating its directory if needed.
func New(cfg Config, logger *logrus.Entry) (*Cache, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Cache{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.DownloadTimeout},
		logger:     logger,
	}, nil
}

// CacheKey returns the SHA-256 hex digest of url -- the sole determinant of
// the cache path (up to the format suffix).
func CacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func suffixForURL(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".csv.gz"):
		return ".csv.gz"
	case strings.HasSuffix(lower, ".csv") || strings.Contains(lower, ".csv"):
		return ".csv"
	case strings.HasSuffix(lower, ".tsv") || strings.Contains(lower, ".tsv"):
		return ".tsv"
	case strings.HasSuffix(lower, ".json") || strings.Contains(lower, ".json"):
		return ".json"
	default:
		return ".parquet"
	}
}

func (c *Cache) pathFor(url string) string {
	return filepath.Join(c.cfg.Dir, CacheKey(url)+suffixForURL(url))
}

// Get returns the cached path for url if present, touching its access time
// for LRU tracking. The second return is false when absent.
func (c *Cache) Get(url string) (string, bool) {
	path := c.pathFor(url)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now) // best-effort LRU touch
	return path, true
}

// Download returns the cached path for url, downloading it first if
// absent. It retries transient network errors with exponential backoff,
// aborts mid-download if the size cap is exceeded, and publishes via
// atomic rename before running eviction.
func (c *Cache) Download(ctx context.Context, url string) (string, error) {
	if path, ok := c.Get(url); ok {
		return path, nil
	}

	finalPath := c.pathFor(url)
	var lastErr error
	delay := c.cfg.RetryBaseDelay
	attempts := c.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		path, err := c.downloadOnce(ctx, url, finalPath)
		if err == nil {
			c.evictLRU()
			return path, nil
		}
		if errors.Is(err, ErrFileTooLarge) {
			return "", err
		}
		lastErr = err
		if c.logger != nil {
			c.logger.WithError(err).WithField("url", url).Warn("file cache download attempt failed, retrying")
		}
	}
	return "", fmt.Errorf("downloading %s after %d attempts: %w", url, attempts, lastErr)
}

func (c *Cache) downloadOnce(ctx context.Context, rawURL, finalPath string) (string, error) {
	tmp, err := os.CreateTemp(c.cfg.Dir, ".download_*"+suffixForURL(rawURL))
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath) // no-op once renamed
	}()

	var source io.ReadCloser
	if isFileURL(rawURL) {
		source, err = openFileURL(rawURL)
		if err != nil {
			return "", err
		}
	} else {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", fmt.Errorf("building request: %w", err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetching %s: %w", rawURL, err)
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
		}
		source = resp.Body
	}
	defer source.Close()

	limited := io.LimitReader(source, c.cfg.MaxFileBytes+1)
	written, err := io.Copy(tmp, limited)
	if err != nil {
		return "", fmt.Errorf("writing download: %w", err)
	}
	if written > c.cfg.MaxFileBytes {
		return "", fmt.Errorf("%w (%d MiB): download aborted", ErrFileTooLarge, c.cfg.MaxFileBytes/(1024*1024))
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("publishing download: %w", err)
	}
	return finalPath, nil
}

// isFileURL reports whether rawURL uses the file scheme. The SSRF guard
// (internal/workerpool/ssrf.go) lets file:// URLs through unconditionally,
// so the downloader must actually be able to serve them.
func isFileURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme == "file"
}

// openFileURL opens the local path named by a file:// URL directly, with no
// network round trip.
func openFileURL(rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing file URL: %w", err)
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening local file %s: %w", path, err)
	}
	return f, nil
}

type cacheEntry struct {
	path  string
	atime time.Time
	size  int64
}

// evictLRU deletes least-recently-used files until the cache is under its
// total-byte cap, ordering by access time ascending.
func (c *Cache) evictLRU() {
	entries, total := c.listEntries()
	if total <= c.cfg.MaxCacheBytes {
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].atime.Before(entries[j].atime) })

	for _, e := range entries {
		if total <= c.cfg.MaxCacheBytes {
			break
		}
		if err := os.Remove(e.path); err == nil {
			total -= e.size
			if c.logger != nil {
				c.logger.WithField("path", e.path).Info("file cache evicted entry")
			}
		}
	}
}

func (c *Cache) listEntries() ([]cacheEntry, int64) {
	dirEntries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return nil, 0
	}
	var entries []cacheEntry
	var total int64
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".download_") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, cacheEntry{
			path:  filepath.Join(c.cfg.Dir, de.Name()),
			atime: info.ModTime(),
			size:  info.Size(),
		})
		total += info.Size()
	}
	return entries, total
}

// CleanupStaleTempFiles removes .download_* temp files older than
// StaleTempFileAge, guarding against crashed downloads leaving debris.
func (c *Cache) CleanupStaleTempFiles() int {
	dirEntries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-c.cfg.StaleTempFileAge)
	removed := 0
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasPrefix(de.Name(), ".download_") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(c.cfg.Dir, de.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}

// Stats reports basic cache statistics for diagnostics.
type Stats struct {
	FileCount      int
	TotalSizeBytes int64
}

// Stats returns the current cache occupancy.
func (c *Cache) Stats() Stats {
	entries, total := c.listEntries()
	return Stats{FileCount: len(entries), TotalSizeBytes: total}
}
