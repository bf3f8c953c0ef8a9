package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DatasetBindingID is a value object for a dataset binding ID.
type DatasetBindingID string

// NewDatasetBindingID creates a new dataset binding ID.
func NewDatasetBindingID() DatasetBindingID { return DatasetBindingID(uuid.New().String()) }

func (id DatasetBindingID) String() string { return string(id) }

// DatasetStatus reflects where a binding is in the validation pipeline.
type DatasetStatus string

const (
	DatasetStatusLoading DatasetStatus = "loading"
	DatasetStatusReady   DatasetStatus = "ready"
	DatasetStatusError   DatasetStatus = "error"
)

// ColumnStats holds the small statistics bundle the worker pool's
// get_schema capability emits per column (§4.2.2).
type ColumnStats struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	UniqueCount *int64  `json:"unique_count,omitempty"`
	NullCount  *int64   `json:"null_count,omitempty"`
}

// ColumnSchema is one entry of a dataset binding's schema.
type ColumnSchema struct {
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Stats ColumnStats `json:"column_stats"`
}

// DatasetBinding belongs to a Conversation. Name must be a valid identifier,
// unique within the conversation; URLs are unique within the conversation.
// Maximum MaxDatasetsPerConversation bindings per conversation.
type DatasetBinding struct {
	ID              DatasetBindingID `json:"id" gorm:"primaryKey"`
	ConversationID  ConversationID   `json:"conversation_id" gorm:"column:conversation_id;index"`
	URL             string           `json:"url"`
	Name            string           `json:"name"`
	RowCount        int64            `json:"row_count" gorm:"column:row_count"`
	ColumnCount     int              `json:"column_count" gorm:"column:column_count"`
	Schema          []ColumnSchema   `json:"schema" gorm:"-"`
	SchemaJSON      string           `json:"-" gorm:"column:schema_json"`
	Status          DatasetStatus    `json:"status"`
	ErrorMessage    *string          `json:"error_message,omitempty" gorm:"column:error_message"`
	FileSizeBytes   *int64           `json:"file_size_bytes,omitempty" gorm:"column:file_size_bytes"`
	ColumnDescs     *string          `json:"column_descriptions,omitempty" gorm:"column:column_descriptions"`
	LoadedAt        time.Time        `json:"loaded_at" gorm:"column:loaded_at"`
}

// TableName specifies the table name for GORM.
func (DatasetBinding) TableName() string { return "datasets" }

// NextTableName implements the count-based auto-naming scheme: the next
// name is table(count+1). Gaps left by removed bindings are never reused.
func NextTableName(existingCount int) string {
	return fmt.Sprintf("table%d", existingCount+1)
}
