// Package ratelimiter accounts per-principal token usage against a rolling
// 24-hour window, with a short-lived in-process status cache to coalesce
// the pre/post checks an orchestrator run makes around a single message.
//
// The rolling-window query and status cache are grounded on the original
// implementation's rate_limit_service.py. The distributed-limiter idiom of
// failing open on status-cache (Redis) errors is adapted from the
// token-bucket limiter in fairyhunter13-ai-cv-evaluator's
// redis_lua_limiter.go, even though the accounting here is a sum-over-window
// rather than a bucket. Store errors are not failed open: Check and Record
// return them. The token limit is fixed at construction; the mutex guards
// only the in-process status cache.
package ratelimiter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/rajeee/chatdf/internal/domain"
	"github.com/rajeee/chatdf/internal/metrics"
)

const (
	// DefaultTokenLimit is the total-token ceiling per rolling window.
	DefaultTokenLimit int64 = 5_000_000
	// WarningThresholdPercent triggers a rate_limit_warning push event.
	WarningThresholdPercent = 80.0
	// StatusCacheTTL coalesces repeated checks for the same principal. A
	// cached status is served unchanged until it expires or this process's
	// Record drops it, so runs that pass Check before their usage is
	// recorded, or that read another process's cached status, can briefly
	// take a principal past the limit.
	StatusCacheTTL = 60 * time.Second
	// RollingWindow is the accounting horizon for usage_tokens.
	RollingWindow = 24 * time.Hour
)

// Status is the result of Check, matching the wire shape in §4.5.
type Status struct {
	Allowed          bool
	UsageTokens      int64
	LimitTokens      int64
	UsagePercent     float64
	RemainingTokens  int64
	ResetsInSeconds  *int64
	Warning          bool
}

// Store is the durable ledger the limiter sums over. Implementations must
// be safe for concurrent use.
type Store interface {
	// SumWindow returns the total input+output tokens recorded for
	// principal with timestamp > windowStart, and the oldest timestamp in
	// that window (zero time if no rows).
	SumWindow(ctx context.Context, principal domain.PrincipalID, windowStart time.Time) (total int64, oldest time.Time, err error)
	// Record appends a usage row.
	Record(ctx context.Context, record *domain.TokenUsageRecord) error
}

type cacheEntry struct {
	status Status
	expiry time.Time
}

// Limiter implements §4.5 Rate Limiter against a durable Store, with an
// in-process status cache (process-local, TTL-invalidated, per §5's
// shared-resource policy).
type Limiter struct {
	store      Store
	tokenLimit int64

	mu    sync.Mutex
	cache map[domain.PrincipalID]cacheEntry

	// redisMirror is an optional cross-process status cache: a read-through
	// layer over the per-process cache above, so concurrent checks for the
	// same principal from different replicas still coalesce onto one
	// SumWindow query. It is never load-bearing: Redis errors are logged
	// and ignored, and a miss simply falls through to Store.
	redisMirror *redis.Client
	metrics     *metrics.Metrics
	logger      *logrus.Entry
}

// New builds a Limiter over store with the given token limit (0 selects
// DefaultTokenLimit). redisMirror and m may both be nil.
func New(store Store, tokenLimit int64, redisMirror *redis.Client, m *metrics.Metrics, logger *logrus.Entry) *Limiter {
	if tokenLimit <= 0 {
		tokenLimit = DefaultTokenLimit
	}
	return &Limiter{
		store:       store,
		tokenLimit:  tokenLimit,
		cache:       make(map[domain.PrincipalID]cacheEntry),
		redisMirror: redisMirror,
		metrics:     m,
		logger:      logger,
	}
}

// Check returns the current rate-limit status for principal, consulting the
// in-process cache, then the cross-process Redis mirror, before falling
// back to a fresh Store.SumWindow query.
func (l *Limiter) Check(ctx context.Context, principal domain.PrincipalID) (Status, error) {
	l.mu.Lock()
	if entry, ok := l.cache[principal]; ok && time.Now().Before(entry.expiry) {
		l.mu.Unlock()
		l.recordDecision(entry.status)
		return entry.status, nil
	}
	l.mu.Unlock()

	if status, ok := l.getMirror(ctx, principal); ok {
		l.mu.Lock()
		l.cache[principal] = cacheEntry{status: status, expiry: time.Now().Add(StatusCacheTTL)}
		l.mu.Unlock()
		l.recordDecision(status)
		return status, nil
	}

	now := time.Now().UTC()
	windowStart := now.Add(-RollingWindow)

	total, oldest, err := l.store.SumWindow(ctx, principal, windowStart)
	if err != nil {
		return Status{}, fmt.Errorf("summing usage window: %w", err)
	}

	status := Status{
		UsageTokens:     total,
		LimitTokens:     l.tokenLimit,
		UsagePercent:    float64(total) / float64(l.tokenLimit) * 100,
		Allowed:         total < l.tokenLimit,
		RemainingTokens: maxInt64(0, l.tokenLimit-total),
	}
	status.Warning = status.UsagePercent >= WarningThresholdPercent

	if !status.Allowed && !oldest.IsZero() {
		expiresAt := oldest.Add(RollingWindow)
		resets := int64(expiresAt.Sub(now).Seconds())
		if resets < 0 {
			resets = 0
		}
		status.ResetsInSeconds = &resets
	}

	l.mu.Lock()
	l.cache[principal] = cacheEntry{status: status, expiry: time.Now().Add(StatusCacheTTL)}
	l.mu.Unlock()

	l.setMirror(ctx, principal, status)
	l.recordDecision(status)
	return status, nil
}

// getMirror consults the Redis status cache. A miss, a decode error, or a
// disabled mirror all just mean "fall through to Store" -- Redis is never
// load-bearing here.
func (l *Limiter) getMirror(ctx context.Context, principal domain.PrincipalID) (Status, bool) {
	if l.redisMirror == nil {
		return Status{}, false
	}
	blob, err := l.redisMirror.Get(ctx, mirrorKey(principal)).Bytes()
	if err != nil {
		if err != redis.Nil && l.logger != nil {
			l.logger.WithError(err).Debug("rate limit redis mirror read failed")
		}
		return Status{}, false
	}
	var status Status
	if err := json.Unmarshal(blob, &status); err != nil {
		if l.logger != nil {
			l.logger.WithError(err).Debug("rate limit redis mirror decode failed")
		}
		return Status{}, false
	}
	return status, true
}

func (l *Limiter) setMirror(ctx context.Context, principal domain.PrincipalID, status Status) {
	if l.redisMirror == nil {
		return
	}
	blob, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := l.redisMirror.Set(ctx, mirrorKey(principal), blob, StatusCacheTTL).Err(); err != nil && l.logger != nil {
		l.logger.WithError(err).Debug("rate limit redis mirror write failed")
	}
}

func (l *Limiter) recordDecision(status Status) {
	if l.metrics == nil {
		return
	}
	outcome := "allowed"
	if !status.Allowed {
		outcome = "denied"
	}
	l.metrics.RateLimitDecisions.WithLabelValues(outcome).Inc()
}

// Record appends a usage record and invalidates the cached status for that
// principal.
func (l *Limiter) Record(ctx context.Context, principal domain.PrincipalID, conversation *domain.ConversationID, modelName string, inputTokens, outputTokens int64) error {
	record := domain.NewTokenUsageRecord(principal, conversation, modelName, inputTokens, outputTokens)
	if err := l.store.Record(ctx, record); err != nil {
		return fmt.Errorf("recording token usage: %w", err)
	}

	l.mu.Lock()
	delete(l.cache, principal)
	l.mu.Unlock()

	if l.redisMirror != nil {
		if err := l.redisMirror.Del(ctx, mirrorKey(principal)).Err(); err != nil && l.logger != nil {
			l.logger.WithError(err).Debug("rate limit redis mirror invalidation failed")
		}
	}
	return nil
}

func mirrorKey(principal domain.PrincipalID) string {
	return "ratelimit:status:" + principal.String()
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// PostgresStore is the lib/pq-backed Store implementation querying the
// token_usage table (§6 Persistent state).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db as a Store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SumWindow implements Store.
func (s *PostgresStore) SumWindow(ctx context.Context, principal domain.PrincipalID, windowStart time.Time) (int64, time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(input_tokens + output_tokens), 0), MIN(timestamp)
		 FROM token_usage
		 WHERE user_id = $1 AND timestamp > $2`,
		principal.String(), windowStart,
	)

	var total int64
	var oldest sql.NullTime
	if err := row.Scan(&total, &oldest); err != nil {
		return 0, time.Time{}, err
	}
	if !oldest.Valid {
		return total, time.Time{}, nil
	}
	return total, oldest.Time, nil
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, record *domain.TokenUsageRecord) error {
	var conversationID *string
	if record.ConversationID != nil {
		s := record.ConversationID.String()
		conversationID = &s
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO token_usage (id, user_id, conversation_id, model_name, input_tokens, output_tokens, cost, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, record.UserID.String(), conversationID, record.ModelName,
		record.InputTokens, record.OutputTokens, record.Cost, record.Timestamp,
	)
	return err
}
