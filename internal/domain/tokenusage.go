package domain

import (
	"time"

	"github.com/google/uuid"
)

// TokenUsageRecordID is a value object for a token usage record ID.
type TokenUsageRecordID string

// NewTokenUsageRecordID creates a new token usage record ID.
func NewTokenUsageRecordID() TokenUsageRecordID { return TokenUsageRecordID(uuid.New().String()) }

// TokenUsageRecord is append-only; it belongs to a principal and optionally
// a conversation. The rate limiter sums input+output tokens over a rolling
// 24h window of these records (see internal/ratelimiter).
type TokenUsageRecord struct {
	ID             TokenUsageRecordID `json:"id" gorm:"primaryKey"`
	UserID         PrincipalID        `json:"user_id" gorm:"column:user_id;index:idx_token_usage_user_ts"`
	ConversationID *ConversationID    `json:"conversation_id,omitempty" gorm:"column:conversation_id"`
	ModelName      string             `json:"model_name" gorm:"column:model_name"`
	InputTokens    int64              `json:"input_tokens" gorm:"column:input_tokens"`
	OutputTokens   int64              `json:"output_tokens" gorm:"column:output_tokens"`
	Cost           float64            `json:"cost"`
	Timestamp      time.Time          `json:"timestamp" gorm:"column:timestamp;index:idx_token_usage_user_ts"`
}

// TableName specifies the table name for GORM.
func (TokenUsageRecord) TableName() string { return "token_usage" }

// NewTokenUsageRecord builds a usage record timestamped now.
func NewTokenUsageRecord(userID PrincipalID, conversationID *ConversationID, modelName string, inputTokens, outputTokens int64) *TokenUsageRecord {
	return &TokenUsageRecord{
		ID:             NewTokenUsageRecordID(),
		UserID:         userID,
		ConversationID: conversationID,
		ModelName:      modelName,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		Timestamp:      time.Now().UTC(),
	}
}
