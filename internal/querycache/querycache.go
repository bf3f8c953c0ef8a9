// Package querycache implements the two-tier query result cache (§4.4):
// an in-memory LRU (Layer A) in front of a durable key-value store
// (Layer B), with singleflight stampede protection around the compute
// path.
//
// Layer B's field shape and eviction-by-created_at rule are grounded on
// the original implementation's services/persistent_cache.py. The
// read-through/write-through coherence contract and the
// golang.org/x/sync/singleflight stampede guard are grounded on
// other_examples' kubernaut pkg/contextapi/query_executor.go
// (CachedExecutor.ListIncidents). The CacheManager-style hit/miss
// metrics and hot-key instinct come from the teacher's
// internal/cache/redis_cache.go.
package querycache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rajeee/chatdf/internal/metrics"
)

// Result is the cacheable value: a query's columns/rows/total_rows, plus a
// cached flag advising callers whether this came from a cache tier.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	TotalRows int              `json:"total_rows"`
	Cached    bool             `json:"-"`
}

// Key computes SHA-256(strip(sql) + '\0' + '\0'.join(sort(urls))).
func Key(sql string, urls []string) string {
	sorted := append([]string(nil), urls...)
	sort.Strings(sorted)
	raw := strings.TrimSpace(sql) + "\x00" + strings.Join(sorted, "\x00")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DurableEntry is one row of Layer B.
type DurableEntry struct {
	Key         string
	SQLText     string
	DatasetURLs string
	ValueBlob   []byte
	RowCount    *int
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// DurableStore is Layer B: a durable key-value store with TTL and a size
// cap, errors from which must never fail the compute path.
type DurableStore interface {
	// Get returns the stored value for key if present and unexpired as of
	// now. An expired row is deleted as a side effect.
	Get(ctx context.Context, key string, now time.Time) (*DurableEntry, error)
	// Put upserts an entry, evicting the oldest rows by created_at if the
	// store exceeds its configured cap.
	Put(ctx context.Context, entry DurableEntry) error
	// Cleanup bulk-deletes expired rows as of now and returns the count removed.
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// Cache is the two-tier query result cache.
type Cache struct {
	layerA *lru.Cache[string, cacheAValue]
	layerB DurableStore

	layerATTL time.Duration
	layerBTTL time.Duration

	group  singleflight.Group
	logger *logrus.Entry
	metrics *metrics.Metrics

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheAValue struct {
	result  Result
	expires time.Time
}

// Config bounds the two tiers.
type Config struct {
	LayerACapacity int
	LayerATTL      time.Duration
	LayerBTTL      time.Duration
}

// DefaultConfig matches §6's Environment defaults.
func DefaultConfig() Config {
	return Config{LayerACapacity: 1000, LayerATTL: 5 * time.Minute, LayerBTTL: time.Hour}
}

// New builds a Cache. layerB may be nil, in which case only Layer A is used
// (errors in Layer B must never fail the compute path, so a nil store is a
// degenerate but valid configuration). m may be nil in tests.
func New(cfg Config, layerB DurableStore, m *metrics.Metrics, logger *logrus.Entry) (*Cache, error) {
	layerA, err := lru.New[string, cacheAValue](cfg.LayerACapacity)
	if err != nil {
		return nil, fmt.Errorf("constructing layer A: %w", err)
	}
	return &Cache{
		layerA:    layerA,
		layerB:    layerB,
		layerATTL: cfg.LayerATTL,
		layerBTTL: cfg.LayerBTTL,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Get implements the coherence contract: consult Layer A, then Layer B,
// writing back through to A on a B-hit.
func (c *Cache) Get(ctx context.Context, sqlText string, urls []string) (Result, bool) {
	key := Key(sqlText, urls)

	if v, ok := c.layerA.Get(key); ok {
		if time.Now().Before(v.expires) {
			c.hits.Add(1)
			c.recordCache(true, "a")
			v.result.Cached = true
			return v.result, true
		}
		c.layerA.Remove(key)
	}

	if c.layerB != nil {
		entry, err := c.layerB.Get(ctx, key, time.Now())
		if err != nil {
			c.logError(err, "layer B get failed")
		} else if entry != nil {
			var result Result
			if err := json.Unmarshal(entry.ValueBlob, &result); err == nil {
				c.hits.Add(1)
				c.recordCache(true, "b")
				result.Cached = true
				c.layerA.Add(key, cacheAValue{result: result, expires: time.Now().Add(c.layerATTL)})
				return result, true
			}
		}
	}

	c.misses.Add(1)
	c.recordCache(false, "a")
	return Result{}, false
}

func (c *Cache) recordCache(hit bool, layer string) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHits.WithLabelValues(layer).Inc()
	} else {
		c.metrics.CacheMisses.WithLabelValues(layer).Inc()
	}
}

// Put writes to Layer A unconditionally and to Layer B best-effort. Values
// with an associated error are silently dropped from both tiers.
func (c *Cache) Put(ctx context.Context, sqlText string, urls []string, result Result, isError bool) {
	if isError {
		return
	}
	key := Key(sqlText, urls)
	result.Cached = false
	c.layerA.Add(key, cacheAValue{result: result, expires: time.Now().Add(c.layerATTL)})

	if c.layerB == nil {
		return
	}
	blob, err := json.Marshal(result)
	if err != nil {
		c.logError(err, "marshalling result for layer B")
		return
	}
	now := time.Now()
	rowCount := result.TotalRows
	entry := DurableEntry{
		Key:         key,
		SQLText:     strings.TrimSpace(sqlText),
		DatasetURLs: strings.Join(urls, "|"),
		ValueBlob:   blob,
		RowCount:    &rowCount,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.layerBTTL),
	}
	if err := c.layerB.Put(ctx, entry); err != nil {
		c.logError(err, "layer B put failed")
	}
}

// GetOrCompute collapses concurrent cache misses for the same key into a
// single compute call (stampede prevention), matching kubernaut's
// singleflight-guarded cache-then-compute flow. The populate callback runs
// inside the singleflight group so late-arriving concurrent callers still
// observe the freshly-cached value instead of recomputing.
func (c *Cache) GetOrCompute(ctx context.Context, sqlText string, urls []string, compute func(context.Context) (Result, bool, error)) (Result, error) {
	if result, ok := c.Get(ctx, sqlText, urls); ok {
		return result, nil
	}

	key := Key(sqlText, urls)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.Get(ctx, sqlText, urls); ok {
			return result, nil
		}
		result, isError, err := compute(ctx)
		if err != nil {
			return Result{}, err
		}
		c.Put(ctx, sqlText, urls, result, isError)
		result.Cached = false
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Cleanup runs Layer B's bulk expiry sweep. Intended to be invoked by a
// periodic background task at CacheCleanupPeriod (§6).
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	if c.layerB == nil {
		return 0, nil
	}
	removed, err := c.layerB.Cleanup(ctx, time.Now())
	if err != nil {
		c.logError(err, "layer B cleanup failed")
		return 0, err
	}
	return removed, nil
}

// Metrics reports hit/miss counters for observability.
type Metrics struct {
	Hits   int64
	Misses int64
}

// Metrics returns a snapshot of hit/miss counters.
func (c *Cache) Metrics() Metrics {
	return Metrics{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *Cache) logError(err error, msg string) {
	if c.logger != nil {
		c.logger.WithError(err).Warn(msg)
	}
}

// PostgresDurableStore implements DurableStore against the
// query_results_cache table (§6), mirroring persistent_cache.py's
// size-capped, created_at-ordered eviction.
type PostgresDurableStore struct {
	db      *sql.DB
	maxSize int
}

// NewPostgresDurableStore wraps db with a maximum entry count.
func NewPostgresDurableStore(db *sql.DB, maxSize int) *PostgresDurableStore {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &PostgresDurableStore{db: db, maxSize: maxSize}
}

// Get implements DurableStore.
func (s *PostgresDurableStore) Get(ctx context.Context, key string, now time.Time) (*DurableEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sql_query, dataset_urls, result_json, row_count, created_at, expires_at
		 FROM query_results_cache WHERE cache_key = $1`, key)

	var e DurableEntry
	e.Key = key
	var rowCount sql.NullInt64
	var resultJSON string
	if err := row.Scan(&e.SQLText, &e.DatasetURLs, &resultJSON, &rowCount, &e.CreatedAt, &e.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	e.ValueBlob = []byte(resultJSON)
	if rowCount.Valid {
		v := int(rowCount.Int64)
		e.RowCount = &v
	}

	if !e.ExpiresAt.After(now) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM query_results_cache WHERE cache_key = $1`, key)
		return nil, nil
	}
	return &e, nil
}

// Put implements DurableStore, evicting oldest-by-created_at on overflow.
func (s *PostgresDurableStore) Put(ctx context.Context, entry DurableEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_results_cache (cache_key, sql_query, dataset_urls, result_json, row_count, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (cache_key) DO UPDATE SET
		   sql_query = EXCLUDED.sql_query, dataset_urls = EXCLUDED.dataset_urls,
		   result_json = EXCLUDED.result_json, row_count = EXCLUDED.row_count,
		   created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		entry.Key, entry.SQLText, entry.DatasetURLs, string(entry.ValueBlob), entry.RowCount, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_results_cache`).Scan(&count); err != nil {
		return err
	}
	if overflow := count - s.maxSize; overflow > 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM query_results_cache WHERE cache_key IN (
			   SELECT cache_key FROM query_results_cache ORDER BY created_at ASC LIMIT $1)`,
			overflow,
		)
		return err
	}
	return nil
}

// Cleanup implements DurableStore.
func (s *PostgresDurableStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM query_results_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
