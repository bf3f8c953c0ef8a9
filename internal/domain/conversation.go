package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Domain errors
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidRole          = errors.New("invalid message role")
	ErrEmptyContent         = errors.New("message content cannot be empty")
	ErrMaxMessagesReached   = errors.New("maximum messages per conversation reached")
	ErrDuplicateDatasetName = errors.New("dataset name already used in this conversation")
	ErrDuplicateDatasetURL  = errors.New("dataset url already bound to this conversation")
)

// Constants
const (
	MaxMessagesPerConversation = 10000
	MaxConversationTitleLength = 50
	AutoTitleEllipsis          = "…"
	MaxDatasetsPerConversation = 50

	// charsPerToken is the heuristic used throughout the core: roughly one
	// token per four characters of content.
	charsPerToken = 4
)

// ConversationID is a value object for conversation ID.
type ConversationID string

// NewConversationID creates a new conversation ID.
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

// ParseConversationID parses a string into a ConversationID.
func ParseConversationID(id string) (ConversationID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.New("invalid conversation id")
	}
	return ConversationID(id), nil
}

func (id ConversationID) String() string { return string(id) }

// Conversation is owned by a Principal; it owns Messages and DatasetBindings.
type Conversation struct {
	ID         ConversationID `json:"id" gorm:"primaryKey"`
	UserID     string         `json:"user_id" gorm:"column:user_id;index"`
	Title      string         `json:"title"`
	IsPinned   bool           `json:"is_pinned" gorm:"column:is_pinned"`
	ShareToken *string        `json:"share_token,omitempty" gorm:"column:share_token;uniqueIndex"`
	SharedAt   *time.Time     `json:"shared_at,omitempty" gorm:"column:shared_at"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Conversation) TableName() string { return "conversations" }

// NewConversation creates an untitled, unpinned conversation for userID.
func NewConversation(userID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        NewConversationID(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch advances UpdatedAt; invariant UpdatedAt >= CreatedAt is preserved by
// construction since Touch only ever moves time forward from "now".
func (c *Conversation) Touch() {
	now := time.Now().UTC()
	if now.Before(c.CreatedAt) {
		now = c.CreatedAt
	}
	c.UpdatedAt = now
}

// ApplyAutoTitle sets the title from the first user message, truncated to
// MaxConversationTitleLength characters plus an ellipsis, but only while the
// conversation has no title yet. Returns true if the title was changed.
func (c *Conversation) ApplyAutoTitle(firstUserMessageContent string) bool {
	if c.Title != "" {
		return false
	}
	c.Title = autoTitleFrom(firstUserMessageContent)
	c.Touch()
	return true
}

func autoTitleFrom(content string) string {
	runes := []rune(content)
	if len(runes) <= MaxConversationTitleLength {
		return content
	}
	return string(runes[:MaxConversationTitleLength]) + AutoTitleEllipsis
}

// EstimateTokenCount applies the core's 4-char/token heuristic.
func EstimateTokenCount(content string) int {
	return len(content) / charsPerToken
}
