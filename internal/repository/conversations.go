package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rajeee/chatdf/internal/domain"
)

// CreateConversation persists a new, untitled conversation for userID.
func (r *Repository) CreateConversation(ctx context.Context, userID domain.PrincipalID) (*domain.Conversation, error) {
	conv := domain.NewConversation(string(userID))
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	r.cacheConversation(ctx, conv)
	return conv, nil
}

// GetConversation implements orchestrator.Repository and datasetsvc's
// ownership checks. Reads go through the Redis L1 cache first when one is
// configured (§4.6's "load conversation" suspension point).
func (r *Repository) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	if conv := r.getCachedConversation(ctx, id); conv != nil {
		r.extendConversationCacheTTL(ctx, id)
		return conv, nil
	}

	var conv domain.Conversation
	err := r.db.WithContext(ctx).First(&conv, "id = ?", string(id)).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	r.cacheConversation(ctx, &conv)
	return &conv, nil
}

// UpdateConversationTitle persists conv's title (§4.6 step 2 auto-title)
// and advances updated_at, invalidating the cached copy.
func (r *Repository) UpdateConversationTitle(ctx context.Context, id domain.ConversationID, title string) error {
	res := r.db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("update conversation title: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	r.invalidateConversationCache(ctx, id)
	return nil
}

// ListConversations returns userID's conversations ordered most-recently
// updated first.
func (r *Repository) ListConversations(ctx context.Context, userID domain.PrincipalID) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", string(userID)).
		Order("updated_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// DeleteConversation removes a conversation; messages and dataset bindings
// cascade via the foreign-key constraints in the schema migration.
func (r *Repository) DeleteConversation(ctx context.Context, id domain.ConversationID) error {
	if err := r.db.WithContext(ctx).Delete(&domain.Conversation{}, "id = ?", string(id)).Error; err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	r.invalidateConversationCache(ctx, id)
	return nil
}

// InsertMessage implements orchestrator.Repository. SQLExecutions are
// marshaled into the sql_query column; the in-memory field is never
// persisted directly (gorm:"-" on domain.Message.SQLExecutions).
func (r *Repository) InsertMessage(ctx context.Context, msg *domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var sqlQueryJSON sql.NullString
	if len(msg.SQLExecutions) > 0 {
		data, err := json.Marshal(msg.SQLExecutions)
		if err != nil {
			return fmt.Errorf("marshaling sql executions: %w", err)
		}
		s := string(data)
		msg.SQLQueryJSON = &s
		sqlQueryJSON = sql.NullString{String: s, Valid: true}
	}

	stmt := r.stmt("insertMessage")
	_, err := stmt.ExecContext(ctx,
		string(msg.ID), string(msg.ConversationID), string(msg.Role), msg.Content,
		sqlQueryJSON, msg.Reasoning, msg.TokenCount, msg.InputTokens, msg.OutputTokens,
		msg.ToolCallTrace, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages implements orchestrator.Repository, returning messages for
// conversationID strictly ordered by created_at (§3's Message invariant).
func (r *Repository) ListMessages(ctx context.Context, conversationID domain.ConversationID) ([]domain.Message, error) {
	stmt := r.stmt("listMessages")
	rows, err := stmt.QueryContext(ctx, string(conversationID))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var (
			m            domain.Message
			id, convID   string
			role         string
			sqlQueryJSON sql.NullString
			reasoning    sql.NullString
			toolTrace    sql.NullString
		)
		if err := rows.Scan(
			&id, &convID, &role, &m.Content, &sqlQueryJSON, &reasoning,
			&m.TokenCount, &m.InputTokens, &m.OutputTokens, &toolTrace, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID = domain.MessageID(id)
		m.ConversationID = domain.ConversationID(convID)
		m.Role = domain.MessageRole(role)
		if reasoning.Valid {
			v := reasoning.String
			m.Reasoning = &v
		}
		if toolTrace.Valid {
			v := toolTrace.String
			m.ToolCallTrace = &v
		}
		if sqlQueryJSON.Valid {
			v := sqlQueryJSON.String
			m.SQLQueryJSON = &v
			if err := json.Unmarshal([]byte(v), &m.SQLExecutions); err != nil {
				return nil, fmt.Errorf("unmarshaling sql executions: %w", err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetSelectedModel implements orchestrator.Repository's step 6 lookup.
func (r *Repository) GetSelectedModel(ctx context.Context, principal domain.PrincipalID) (*string, error) {
	var settings domain.UserSettings
	err := r.db.WithContext(ctx).First(&settings, "user_id = ?", string(principal)).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user settings: %w", err)
	}
	return settings.SelectedModel, nil
}
