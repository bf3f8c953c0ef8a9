// Package repository is the persistence layer: schema in the migrations
// directory, a prepared-statement cache for the hot conversation/message
// paths, and Redis cache-aside reads for conversations.
//
// Grounded on chat-service/internal/repository/chat_repository.go's
// ChatRepository (prepared-statement cache, connection pool tuning,
// Redis L1 cache-aside, async cache population after a write) adapted
// from its sharded-multi-tenant SaaS schema to the full table set named
// in original_source/.../database.py: users, sessions, conversations,
// messages, datasets, token_usage, referral_keys, user_settings, and
// query_results_cache (the durable layer internal/querycache's
// PostgresDurableStore reads and writes).
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = fmt.Errorf("repository: not found")

// conversationCacheTTL/hotConversationCacheTTL mirror the teacher's
// adaptive-TTL cache-aside idiom: conversations touched within the last
// hour stay cached longer.
const (
	conversationCacheTTL    = 24 * time.Hour
	hotConversationCacheTTL = 7 * 24 * time.Hour
	hotWindow               = time.Hour
)

// Repository is the GORM-backed persistence layer, with an optional Redis
// client providing L1 cache-aside reads for conversations (nil disables
// caching -- every read goes straight to the database). The
// insertMessage/listMessages hot path runs over its own lib/pq connection
// pool rather than GORM's, matching the teacher's split: chat_repository.go
// is raw database/sql, while chat_handler.go's higher-level entities go
// through a *gorm.DB.
type Repository struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	redis  *redis.Client
	logger *logrus.Entry

	stmtsMu sync.RWMutex
	stmts   map[string]*sql.Stmt
}

// New wraps an already-connected *gorm.DB for the ORM entities, and opens
// its own lib/pq pool against dsn for the prepared-statement hot path.
// redisClient may be nil.
func New(db *gorm.DB, dsn string, redisClient *redis.Client, logger *logrus.Entry) (*Repository, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening lib/pq connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	repo := &Repository{
		db:     db,
		sqlDB:  sqlDB,
		redis:  redisClient,
		logger: logger,
		stmts:  make(map[string]*sql.Stmt),
	}
	if err := repo.prepareStatements(context.Background()); err != nil {
		return nil, fmt.Errorf("preparing statements: %w", err)
	}
	return repo, nil
}

// preparedStatements are the hot paths worth bypassing GORM's query
// builder for; everything else goes through *gorm.DB directly.
var preparedStatements = map[string]string{
	"insertMessage": `
		INSERT INTO messages (
			id, conversation_id, role, content, sql_query, reasoning,
			token_count, input_tokens, output_tokens, tool_call_trace, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
	"listMessages": `
		SELECT id, conversation_id, role, content, sql_query, reasoning,
		       token_count, input_tokens, output_tokens, tool_call_trace, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`,
}

func (r *Repository) prepareStatements(ctx context.Context) error {
	r.stmtsMu.Lock()
	defer r.stmtsMu.Unlock()
	for name, query := range preparedStatements {
		stmt, err := r.sqlDB.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", name, err)
		}
		r.stmts[name] = stmt
	}
	return nil
}

func (r *Repository) stmt(name string) *sql.Stmt {
	r.stmtsMu.RLock()
	defer r.stmtsMu.RUnlock()
	return r.stmts[name]
}

// Close releases prepared statements and the lib/pq pool opened by New. It
// does not touch the *gorm.DB, which the caller owns.
func (r *Repository) Close() error {
	r.stmtsMu.Lock()
	for _, stmt := range r.stmts {
		_ = stmt.Close()
	}
	r.stmtsMu.Unlock()
	return r.sqlDB.Close()
}

func (r *Repository) logWarn(err error, msg string) {
	if r.logger != nil {
		r.logger.WithError(err).Warn(msg)
	}
}
