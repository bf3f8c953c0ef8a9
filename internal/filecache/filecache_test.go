package filecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.DownloadTimeout = 5 * time.Second
	cfg.RetryAttempts = 2
	cfg.RetryBaseDelay = time.Millisecond
	cache, err := New(cfg, nil)
	require.NoError(t, err)
	return cache
}

func TestCache_GetAbsentReturnsFalse(t *testing.T) {
	cache := newTestCache(t)
	_, ok := cache.Get("https://example.com/data.csv")
	assert.False(t, ok)
}

func TestCache_DownloadThenGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a,b\n1,2\n"))
	}))
	defer srv.Close()

	cache := newTestCache(t)
	url := srv.URL + "/data.csv"

	path, err := cache.Download(context.Background(), url)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.True(t, strings.HasSuffix(path, ".csv"))

	got, ok := cache.Get(url)
	assert.True(t, ok)
	assert.Equal(t, path, got)
}

func TestCache_DownloadFastPathReturnsExisting(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	cache := newTestCache(t)
	url := srv.URL + "/data.parquet"

	_, err := cache.Download(context.Background(), url)
	require.NoError(t, err)
	_, err = cache.Download(context.Background(), url)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestCache_DownloadAbortsOnSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxFileBytes = 10
	cfg.RetryAttempts = 1
	cache, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = cache.Download(context.Background(), srv.URL+"/big.csv")
	assert.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial file should remain")
}

func TestCache_EvictionRemovesOldestFirst(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxCacheBytes = 150
	cache, err := New(cfg, nil)
	require.NoError(t, err)

	writeFixture(t, dir, "old.csv", 100, time.Now().Add(-time.Hour))
	writeFixture(t, dir, "new.csv", 100, time.Now())

	cache.evictLRU()

	_, errOld := os.Stat(filepath.Join(dir, "old.csv"))
	_, errNew := os.Stat(filepath.Join(dir, "new.csv"))
	assert.True(t, os.IsNotExist(errOld))
	assert.NoError(t, errNew)
}

func TestCache_CleanupStaleTempFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.StaleTempFileAge = time.Minute
	cache, err := New(cfg, nil)
	require.NoError(t, err)

	writeFixture(t, dir, ".download_abc.csv", 10, time.Now().Add(-2*time.Hour))
	writeFixture(t, dir, ".download_fresh.csv", 10, time.Now())

	removed := cache.CleanupStaleTempFiles()
	assert.Equal(t, 1, removed)
}

func writeFixture(t *testing.T, dir, name string, size int, modTime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestCacheKey_DeterminedByURLOnly(t *testing.T) {
	assert.Equal(t, CacheKey("https://x/a.csv"), CacheKey("https://x/a.csv"))
	assert.NotEqual(t, CacheKey("https://x/a.csv"), CacheKey("https://x/b.csv"))
}
