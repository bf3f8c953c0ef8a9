package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageID is a value object for message ID.
type MessageID string

// NewMessageID creates a new message ID.
func NewMessageID() MessageID { return MessageID(uuid.New().String()) }

func (id MessageID) String() string { return string(id) }

// MessageRole restricts messages to the two roles the wire protocol and
// persistent schema recognize.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	// MessageRoleSystem is used only for in-memory context assembly (§4.6
	// step 4); it is never persisted.
	MessageRoleSystem MessageRole = "system"
)

// IsValid reports whether r is one of the persisted roles.
func (r MessageRole) IsValid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant:
		return true
	default:
		return false
	}
}

// SQLExecution records one execute_sql tool call made during a message
// cycle. Rows is wire-trimmed (<=100); FullRows is storage-trimmed (<=1000)
// and is nil when it would be identical to Rows.
type SQLExecution struct {
	Query         string           `json:"query"`
	Columns       []string         `json:"columns"`
	Rows          []map[string]any `json:"rows"`
	FullRows      []map[string]any `json:"-"`
	TotalRows     int              `json:"total_rows"`
	Error         string           `json:"error,omitempty"`
	ElapsedMS     int64            `json:"elapsed_ms"`
}

// StorageRows returns the rows that should be persisted: FullRows if it was
// populated, otherwise Rows.
func (e SQLExecution) StorageRows() []map[string]any {
	if e.FullRows != nil {
		return e.FullRows
	}
	return e.Rows
}

// Message belongs to a Conversation. Ordering within a conversation is
// strictly by CreatedAt; messages are append-only except for explicit
// deletion.
type Message struct {
	ID             MessageID      `json:"id" gorm:"primaryKey"`
	ConversationID ConversationID `json:"conversation_id" gorm:"column:conversation_id;index"`
	Role           MessageRole    `json:"role"`
	Content        string         `json:"content"`
	SQLExecutions  []SQLExecution `json:"sql_executions,omitempty" gorm:"-"`
	SQLQueryJSON   *string        `json:"-" gorm:"column:sql_query"`
	Reasoning      *string        `json:"reasoning,omitempty" gorm:"column:reasoning"`
	TokenCount     int            `json:"token_count" gorm:"column:token_count"`
	InputTokens    int            `json:"input_tokens,omitempty" gorm:"column:input_tokens"`
	OutputTokens   int            `json:"output_tokens,omitempty" gorm:"column:output_tokens"`
	ToolCallTrace  *string        `json:"tool_call_trace,omitempty" gorm:"column:tool_call_trace"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Message) TableName() string { return "messages" }

// NewUserMessage builds a user message. Token count uses the 4-char
// heuristic since user content is never run through the model's own
// tokenizer before persistence.
func NewUserMessage(conversationID ConversationID, content string) (*Message, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	return &Message{
		ID:             NewMessageID(),
		ConversationID: conversationID,
		Role:           MessageRoleUser,
		Content:        content,
		TokenCount:     EstimateTokenCount(content),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// NewAssistantMessage builds the assistant message persisted at the end of
// an orchestrator run (§4.6 step 9).
func NewAssistantMessage(
	conversationID ConversationID,
	content string,
	sqlExecutions []SQLExecution,
	reasoning string,
	inputTokens, outputTokens int,
	toolCallTrace string,
) *Message {
	m := &Message{
		ID:             NewMessageID(),
		ConversationID: conversationID,
		Role:           MessageRoleAssistant,
		Content:        content,
		SQLExecutions:  sqlExecutions,
		TokenCount:     inputTokens + outputTokens,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		CreatedAt:      time.Now().UTC(),
	}
	if reasoning != "" {
		m.Reasoning = &reasoning
	}
	if toolCallTrace != "" {
		m.ToolCallTrace = &toolCallTrace
	}
	return m
}
