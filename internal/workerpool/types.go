// Package workerpool implements the isolated worker pool (§4.2): a
// configured-size pool of sandboxed workers exposing validate_url,
// get_schema, and run_query, each bounded by a hard per-task timeout, each
// returning structured error dicts rather than raising across the worker
// boundary.
//
// The three-capability contract and error taxonomy are grounded directly on
// the original implementation's services/worker_pool.py (pool size,
// maxtasksperchild recycling, per-task timeout, dict-shaped errors on
// timeout/internal failure). Each slot runs its tasks in an in-process
// LocalSandbox (see sandbox.go) that is recycled after a configured task
// count; no container and no memory, CPU or process limit is applied.
package workerpool

import "github.com/rajeee/chatdf/internal/domain"

// ErrorType enumerates the worker-boundary error classes (§4.2, §7).
type ErrorType string

const (
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeSQL        ErrorType = "sql"
	ErrorTypeInternal   ErrorType = "internal"
)

// TaskError is the structured dict every worker capability returns on
// failure -- never a raised exception across the worker boundary.
type TaskError struct {
	ErrorType ErrorType `json:"error_type"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

// Dataset is one entry of the datasets list passed to run_query.
type Dataset struct {
	URL       string `json:"url"`
	TableName string `json:"table_name"`
}

// ValidateURLResult is validate_url's return shape.
type ValidateURLResult struct {
	Valid         bool       `json:"valid"`
	FileSizeBytes *int64     `json:"file_size_bytes,omitempty"`
	Err           *TaskError `json:"error,omitempty"`
}

// SchemaResult is get_schema's return shape.
type SchemaResult struct {
	Columns  []domain.ColumnSchema `json:"columns,omitempty"`
	RowCount int64                 `json:"row_count"`
	Err      *TaskError            `json:"error,omitempty"`
}

// QueryResult is run_query's return shape.
type QueryResult struct {
	Columns     []string         `json:"columns,omitempty"`
	Rows        []map[string]any `json:"rows,omitempty"`
	TotalRows   int              `json:"total_rows"`
	ElapsedMS   int64            `json:"elapsed_ms"`
	Err         *TaskError       `json:"error,omitempty"`
}
