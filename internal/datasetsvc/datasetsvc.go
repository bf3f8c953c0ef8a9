// Package datasetsvc implements the dataset binding lifecycle (§4.7): the
// validation pipeline behind attaching a remote dataset to a conversation,
// auto-naming, schema refresh, and removal.
//
// The pipeline's step order, error messages, and auto-naming scheme are
// grounded directly on the original implementation's
// app/services/dataset_service.py (add_dataset's six steps, refresh_schema's
// steps 4-5 replay, _next_table_name's count-based scheme). The worker pool
// capabilities it calls into are internal/workerpool's ValidateURL and
// GetSchema.
package datasetsvc

import (
	"context"
	"errors"
	"regexp"

	"github.com/rajeee/chatdf/internal/domain"
	"github.com/rajeee/chatdf/internal/workerpool"
)

// ErrInvalidURLFormat is step 1's failure: url is not a bare http(s) URL
// with no whitespace.
var ErrInvalidURLFormat = errors.New("invalid URL format")

// ErrMaxDatasetsReached is step 3's failure.
var ErrMaxDatasetsReached = errors.New("maximum 50 datasets reached")

var urlFormatRe = regexp.MustCompile(`^https?://\S+$`)

// ValidateURLFormat is the cheap, pre-network format check (§4.7 step 1) --
// distinct from the worker pool's scheme/SSRF/size/magic-byte check (step 4).
func ValidateURLFormat(url string) error {
	if url == "" || !urlFormatRe.MatchString(url) {
		return ErrInvalidURLFormat
	}
	return nil
}

// Repository is the persistence seam datasetsvc depends on; implemented by
// internal/repository.
type Repository interface {
	CountByConversation(ctx context.Context, conversationID domain.ConversationID) (int, error)
	ExistsURL(ctx context.Context, conversationID domain.ConversationID, url string) (bool, error)
	InsertDataset(ctx context.Context, binding *domain.DatasetBinding) error
	UpdateDatasetSchema(ctx context.Context, binding *domain.DatasetBinding) error
	DeleteDataset(ctx context.Context, id domain.DatasetBindingID) error
	GetDataset(ctx context.Context, id domain.DatasetBindingID) (*domain.DatasetBinding, error)
	ListDatasets(ctx context.Context, conversationID domain.ConversationID) ([]domain.DatasetBinding, error)
}

// WorkerPool is the subset of internal/workerpool's Pool this service drives.
type WorkerPool interface {
	ValidateURL(ctx context.Context, url string) workerpool.ValidateURLResult
	GetSchema(ctx context.Context, url string) workerpool.SchemaResult
}

// Service implements the dataset binding lifecycle.
type Service struct {
	repo    Repository
	workers WorkerPool
}

// New constructs a Service.
func New(repo Repository, workers WorkerPool) *Service {
	return &Service{repo: repo, workers: workers}
}

// AddDataset runs the six-step pipeline and persists a new binding. If name
// is empty, the next auto-generated table name is used.
func (s *Service) AddDataset(ctx context.Context, conversationID domain.ConversationID, url, name string) (*domain.DatasetBinding, error) {
	// Step 1: format check.
	if err := ValidateURLFormat(url); err != nil {
		return nil, err
	}

	// Step 2: duplicate check.
	exists, err := s.repo.ExistsURL(ctx, conversationID, url)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrDuplicateDatasetURL
	}

	// Step 3: limit check.
	count, err := s.repo.CountByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if count >= domain.MaxDatasetsPerConversation {
		return nil, ErrMaxDatasetsReached
	}

	// Step 4: HEAD + magic bytes.
	validated := s.workers.ValidateURL(ctx, url)
	if !validated.Valid {
		return nil, workerError(validated.Err, "could not access URL")
	}

	// Step 5: schema extraction.
	schema := s.workers.GetSchema(ctx, url)
	if schema.Err != nil {
		return nil, workerError(schema.Err, "could not read dataset schema")
	}

	// Step 6: persist.
	if name == "" {
		name = domain.NextTableName(count)
	}
	binding := &domain.DatasetBinding{
		ID:             domain.NewDatasetBindingID(),
		ConversationID: conversationID,
		URL:            url,
		Name:           name,
		RowCount:       schema.RowCount,
		ColumnCount:    len(schema.Columns),
		Schema:         schema.Columns,
		Status:         domain.DatasetStatusReady,
		FileSizeBytes:  validated.FileSizeBytes,
	}
	if err := s.repo.InsertDataset(ctx, binding); err != nil {
		return nil, err
	}
	return binding, nil
}

// RemoveDataset deletes a binding. No-op if it does not exist, matching the
// original's unconditional DELETE.
func (s *Service) RemoveDataset(ctx context.Context, id domain.DatasetBindingID) error {
	return s.repo.DeleteDataset(ctx, id)
}

// RefreshSchema re-runs steps 4-5 against the binding's existing URL and
// updates the stored schema/row/column counts. On failure the existing row
// is left untouched.
func (s *Service) RefreshSchema(ctx context.Context, id domain.DatasetBindingID) (*domain.DatasetBinding, error) {
	binding, err := s.repo.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		return nil, domain.ErrConversationNotFound
	}

	validated := s.workers.ValidateURL(ctx, binding.URL)
	if !validated.Valid {
		return nil, workerError(validated.Err, "could not access URL")
	}

	schema := s.workers.GetSchema(ctx, binding.URL)
	if schema.Err != nil {
		return nil, workerError(schema.Err, "could not read dataset schema")
	}

	binding.Schema = schema.Columns
	binding.RowCount = schema.RowCount
	binding.ColumnCount = len(schema.Columns)
	if err := s.repo.UpdateDatasetSchema(ctx, binding); err != nil {
		return nil, err
	}
	return binding, nil
}

// ListDatasets returns every binding for a conversation, ordered by
// load time.
func (s *Service) ListDatasets(ctx context.Context, conversationID domain.ConversationID) ([]domain.DatasetBinding, error) {
	return s.repo.ListDatasets(ctx, conversationID)
}

func workerError(te *workerpool.TaskError, fallback string) error {
	if te == nil {
		return errors.New(fallback)
	}
	return errors.New(te.Message)
}
