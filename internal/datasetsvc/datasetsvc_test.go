package datasetsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajeee/chatdf/internal/domain"
	"github.com/rajeee/chatdf/internal/workerpool"
)

type fakeRepo struct {
	datasets map[domain.DatasetBindingID]*domain.DatasetBinding
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{datasets: make(map[domain.DatasetBindingID]*domain.DatasetBinding)}
}

func (r *fakeRepo) CountByConversation(_ context.Context, conversationID domain.ConversationID) (int, error) {
	n := 0
	for _, d := range r.datasets {
		if d.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) ExistsURL(_ context.Context, conversationID domain.ConversationID, url string) (bool, error) {
	for _, d := range r.datasets {
		if d.ConversationID == conversationID && d.URL == url {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) InsertDataset(_ context.Context, binding *domain.DatasetBinding) error {
	r.datasets[binding.ID] = binding
	return nil
}

func (r *fakeRepo) UpdateDatasetSchema(_ context.Context, binding *domain.DatasetBinding) error {
	r.datasets[binding.ID] = binding
	return nil
}

func (r *fakeRepo) DeleteDataset(_ context.Context, id domain.DatasetBindingID) error {
	delete(r.datasets, id)
	return nil
}

func (r *fakeRepo) GetDataset(_ context.Context, id domain.DatasetBindingID) (*domain.DatasetBinding, error) {
	d, ok := r.datasets[id]
	if !ok {
		return nil, nil
	}
	return d, nil
}

func (r *fakeRepo) ListDatasets(_ context.Context, conversationID domain.ConversationID) ([]domain.DatasetBinding, error) {
	var out []domain.DatasetBinding
	for _, d := range r.datasets {
		if d.ConversationID == conversationID {
			out = append(out, *d)
		}
	}
	return out, nil
}

type fakeWorkers struct {
	validateResult workerpool.ValidateURLResult
	schemaResult   workerpool.SchemaResult
}

func (w *fakeWorkers) ValidateURL(_ context.Context, _ string) workerpool.ValidateURLResult {
	return w.validateResult
}

func (w *fakeWorkers) GetSchema(_ context.Context, _ string) workerpool.SchemaResult {
	return w.schemaResult
}

func okWorkers() *fakeWorkers {
	return &fakeWorkers{
		validateResult: workerpool.ValidateURLResult{Valid: true},
		schemaResult: workerpool.SchemaResult{
			Columns:  []domain.ColumnSchema{{Name: "a", Type: "number"}},
			RowCount: 10,
		},
	}
}

func TestAddDataset_RejectsInvalidFormat(t *testing.T) {
	svc := New(newFakeRepo(), okWorkers())
	_, err := svc.AddDataset(context.Background(), domain.NewConversationID(), "not-a-url", "")
	assert.ErrorIs(t, err, ErrInvalidURLFormat)
}

func TestAddDataset_RejectsDuplicateURL(t *testing.T) {
	repo := newFakeRepo()
	convID := domain.NewConversationID()
	svc := New(repo, okWorkers())

	_, err := svc.AddDataset(context.Background(), convID, "https://x/data.csv", "")
	require.NoError(t, err)

	_, err = svc.AddDataset(context.Background(), convID, "https://x/data.csv", "")
	assert.ErrorIs(t, err, domain.ErrDuplicateDatasetURL)
}

func TestAddDataset_RejectsAtCapacity(t *testing.T) {
	repo := newFakeRepo()
	convID := domain.NewConversationID()
	svc := New(repo, okWorkers())

	for i := 0; i < domain.MaxDatasetsPerConversation; i++ {
		repo.datasets[domain.NewDatasetBindingID()] = &domain.DatasetBinding{
			ID: domain.NewDatasetBindingID(), ConversationID: convID,
		}
	}

	_, err := svc.AddDataset(context.Background(), convID, "https://x/new.csv", "")
	assert.ErrorIs(t, err, ErrMaxDatasetsReached)
}

func TestAddDataset_PropagatesValidationError(t *testing.T) {
	workers := &fakeWorkers{validateResult: workerpool.ValidateURLResult{
		Valid: false,
		Err:   &workerpool.TaskError{ErrorType: workerpool.ErrorTypeValidation, Message: "refusing private network address"},
	}}
	svc := New(newFakeRepo(), workers)

	_, err := svc.AddDataset(context.Background(), domain.NewConversationID(), "https://x/data.csv", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing private network address")
}

func TestAddDataset_AutoNamesWhenNameEmpty(t *testing.T) {
	repo := newFakeRepo()
	convID := domain.NewConversationID()
	svc := New(repo, okWorkers())

	binding, err := svc.AddDataset(context.Background(), convID, "https://x/data.csv", "")
	require.NoError(t, err)
	assert.Equal(t, "table1", binding.Name)

	binding2, err := svc.AddDataset(context.Background(), convID, "https://x/data2.csv", "")
	require.NoError(t, err)
	assert.Equal(t, "table2", binding2.Name)
}

func TestAddDataset_UsesProvidedName(t *testing.T) {
	svc := New(newFakeRepo(), okWorkers())
	binding, err := svc.AddDataset(context.Background(), domain.NewConversationID(), "https://x/data.csv", "sales")
	require.NoError(t, err)
	assert.Equal(t, "sales", binding.Name)
}

func TestRemoveDataset_NoErrorWhenAbsent(t *testing.T) {
	svc := New(newFakeRepo(), okWorkers())
	err := svc.RemoveDataset(context.Background(), domain.NewDatasetBindingID())
	assert.NoError(t, err)
}

func TestRefreshSchema_UpdatesExistingBindingOnSuccess(t *testing.T) {
	repo := newFakeRepo()
	id := domain.NewDatasetBindingID()
	repo.datasets[id] = &domain.DatasetBinding{ID: id, URL: "https://x/data.csv", RowCount: 1}

	workers := okWorkers()
	workers.schemaResult.RowCount = 99
	svc := New(repo, workers)

	updated, err := svc.RefreshSchema(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(99), updated.RowCount)
}

func TestRefreshSchema_LeavesRowUntouchedOnFailure(t *testing.T) {
	repo := newFakeRepo()
	id := domain.NewDatasetBindingID()
	repo.datasets[id] = &domain.DatasetBinding{ID: id, URL: "https://x/data.csv", RowCount: 1}

	workers := &fakeWorkers{validateResult: workerpool.ValidateURLResult{
		Valid: false, Err: &workerpool.TaskError{Message: "gone"},
	}}
	svc := New(repo, workers)

	_, err := svc.RefreshSchema(context.Background(), id)
	assert.Error(t, err)
	assert.Equal(t, int64(1), repo.datasets[id].RowCount)
}

func TestListDatasets_ReturnsOnlyConversationScoped(t *testing.T) {
	repo := newFakeRepo()
	convA := domain.NewConversationID()
	convB := domain.NewConversationID()
	repo.datasets[domain.NewDatasetBindingID()] = &domain.DatasetBinding{ConversationID: convA}
	repo.datasets[domain.NewDatasetBindingID()] = &domain.DatasetBinding{ConversationID: convB}

	svc := New(repo, okWorkers())
	list, err := svc.ListDatasets(context.Background(), convA)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
