package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/rajeee/chatdf/internal/domain"
)

// CountByConversation implements internal/datasetsvc's Repository seam for
// the MaxDatasetsPerConversation cap (§4.7 step 3).
func (r *Repository) CountByConversation(ctx context.Context, conversationID domain.ConversationID) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.DatasetBinding{}).
		Where("conversation_id = ?", string(conversationID)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting dataset bindings: %w", err)
	}
	return int(count), nil
}

// ExistsURL implements the duplicate-URL check (§4.7 step 2).
func (r *Repository) ExistsURL(ctx context.Context, conversationID domain.ConversationID, url string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.DatasetBinding{}).
		Where("conversation_id = ? AND url = ?", string(conversationID), url).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("checking dataset url: %w", err)
	}
	return count > 0, nil
}

// InsertDataset persists a new binding, marshaling its schema to the JSON
// column (domain.DatasetBinding.Schema is gorm:"-").
func (r *Repository) InsertDataset(ctx context.Context, binding *domain.DatasetBinding) error {
	if err := marshalDatasetSchema(binding); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(binding).Error; err != nil {
		return fmt.Errorf("insert dataset binding: %w", err)
	}
	return nil
}

// UpdateDatasetSchema persists a refreshed schema/row-count/status for an
// existing binding (§4.7 refresh_schema).
func (r *Repository) UpdateDatasetSchema(ctx context.Context, binding *domain.DatasetBinding) error {
	if err := marshalDatasetSchema(binding); err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&domain.DatasetBinding{}).
		Where("id = ?", string(binding.ID)).
		Updates(map[string]any{
			"row_count":           binding.RowCount,
			"column_count":        binding.ColumnCount,
			"schema_json":         binding.SchemaJSON,
			"status":              binding.Status,
			"error_message":       binding.ErrorMessage,
			"file_size_bytes":     binding.FileSizeBytes,
			"column_descriptions": binding.ColumnDescs,
			"loaded_at":           binding.LoadedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update dataset binding: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDataset implements remove_dataset's no-op-safe delete (§4.7):
// deleting an absent binding is not an error.
func (r *Repository) DeleteDataset(ctx context.Context, id domain.DatasetBindingID) error {
	if err := r.db.WithContext(ctx).Delete(&domain.DatasetBinding{}, "id = ?", string(id)).Error; err != nil {
		return fmt.Errorf("delete dataset binding: %w", err)
	}
	return nil
}

// GetDataset fetches one binding, unmarshaling its schema JSON.
func (r *Repository) GetDataset(ctx context.Context, id domain.DatasetBindingID) (*domain.DatasetBinding, error) {
	var binding domain.DatasetBinding
	err := r.db.WithContext(ctx).First(&binding, "id = ?", string(id)).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query dataset binding: %w", err)
	}
	if err := unmarshalDatasetSchema(&binding); err != nil {
		return nil, err
	}
	return &binding, nil
}

// ListDatasets returns conversationID's bindings ordered by loaded_at,
// unmarshaling each schema JSON (§4.7 get_datasets/list_datasets).
func (r *Repository) ListDatasets(ctx context.Context, conversationID domain.ConversationID) ([]domain.DatasetBinding, error) {
	var bindings []domain.DatasetBinding
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", string(conversationID)).
		Order("loaded_at ASC").
		Find(&bindings).Error
	if err != nil {
		return nil, fmt.Errorf("list dataset bindings: %w", err)
	}
	for i := range bindings {
		if err := unmarshalDatasetSchema(&bindings[i]); err != nil {
			return nil, err
		}
	}
	return bindings, nil
}

func marshalDatasetSchema(binding *domain.DatasetBinding) error {
	if binding.Schema == nil {
		binding.SchemaJSON = ""
		return nil
	}
	data, err := json.Marshal(binding.Schema)
	if err != nil {
		return fmt.Errorf("marshaling dataset schema: %w", err)
	}
	binding.SchemaJSON = string(data)
	return nil
}

func unmarshalDatasetSchema(binding *domain.DatasetBinding) error {
	if binding.SchemaJSON == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(binding.SchemaJSON), &binding.Schema); err != nil {
		return fmt.Errorf("unmarshaling dataset schema: %w", err)
	}
	return nil
}
