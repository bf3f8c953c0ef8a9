//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rajeee/chatdf/internal/domain"
	"github.com/rajeee/chatdf/internal/repository"
)

// startPostgres brings up a disposable Postgres container, applies the
// embedded migration against it, and returns a ready *gorm.DB.
func startPostgres(t *testing.T) (*gorm.DB, string) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "chatdf"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := "postgres://postgres:postgres@" + host + ":" + port.Port() + "/chatdf?sslmode=disable"
	require.NoError(t, repository.Migrate(dsn))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db, dsn
}

func TestRepository_FullCRUDSurface(t *testing.T) {
	db, dsn := startPostgres(t)
	logger := logrus.NewEntry(logrus.New())
	repo, err := repository.New(db, dsn, nil, logger)
	require.NoError(t, err)
	ctx := context.Background()

	// Referral key consumption gates principal creation.
	key := &domain.ReferralKey{Key: "welcome-key", CreatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(key).Error)

	principal, err := repo.CreateUser(ctx, "google-sub-1", "a@example.com", "Ada")
	require.NoError(t, err)
	require.NoError(t, repo.ConsumeReferralKey(ctx, "welcome-key", principal.ID))
	require.ErrorIs(t, repo.ConsumeReferralKey(ctx, "welcome-key", principal.ID), domain.ErrReferralKeyConsumed)

	fetched, err := repo.GetUserByExternalID(ctx, "google-sub-1")
	require.NoError(t, err)
	require.Equal(t, principal.ID, fetched.ID)

	// Sessions.
	session, err := repo.CreateSession(ctx, principal.ID)
	require.NoError(t, err)
	gotPrincipal, err := repo.ValidateSession(ctx, string(session.ID))
	require.NoError(t, err)
	require.Equal(t, principal.ID, gotPrincipal)
	require.NoError(t, repo.DeleteSession(ctx, session.ID))
	_, err = repo.ValidateSession(ctx, string(session.ID))
	require.ErrorIs(t, err, repository.ErrNotFound)

	// User settings.
	settings, err := repo.GetUserSettings(ctx, principal.ID)
	require.NoError(t, err)
	require.Equal(t, principal.ID, settings.UserID)
	model := "gpt-5"
	settings.SelectedModel = &model
	require.NoError(t, repo.SaveUserSettings(ctx, settings))
	reloaded, err := repo.GetUserSettings(ctx, principal.ID)
	require.NoError(t, err)
	require.Equal(t, &model, reloaded.SelectedModel)

	// Conversations and messages.
	conv, err := repo.CreateConversation(ctx, principal.ID)
	require.NoError(t, err)

	userMsg, err := domain.NewUserMessage(conv.ID, "how many rows?")
	require.NoError(t, err)
	require.NoError(t, repo.InsertMessage(ctx, userMsg))

	assistantMsg := domain.NewAssistantMessage(conv.ID, "there are 42 rows", []domain.SQLExecution{
		{Query: "select count(*) from t", Columns: []string{"count"}, Rows: []map[string]any{{"count": 42}}, TotalRows: 1},
	}, "counted rows", 10, 5, "execute_sql")
	require.NoError(t, repo.InsertMessage(ctx, assistantMsg))

	messages, err := repo.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, domain.MessageRoleAssistant, messages[1].Role)
	require.Len(t, messages[1].SQLExecutions, 1)

	require.NoError(t, repo.UpdateConversationTitle(ctx, conv.ID, "Row count question"))
	updated, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, "Row count question", updated.Title)

	convs, err := repo.ListConversations(ctx, principal.ID)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	// Datasets.
	binding := &domain.DatasetBinding{
		ID:             domain.NewDatasetBindingID(),
		ConversationID: conv.ID,
		URL:            "https://example.com/data.csv",
		Name:           "table1",
		Status:         domain.DatasetStatusReady,
		LoadedAt:       time.Now().UTC(),
		Schema:         []domain.ColumnSchema{{Name: "id", Type: "int64"}},
	}
	require.NoError(t, repo.InsertDataset(ctx, binding))

	count, err := repo.CountByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	exists, err := repo.ExistsURL(ctx, conv.ID, binding.URL)
	require.NoError(t, err)
	require.True(t, exists)

	binding.RowCount = 100
	require.NoError(t, repo.UpdateDatasetSchema(ctx, binding))

	gotBinding, err := repo.GetDataset(ctx, binding.ID)
	require.NoError(t, err)
	require.Equal(t, int64(100), gotBinding.RowCount)
	require.Len(t, gotBinding.Schema, 1)

	list, err := repo.ListDatasets(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, repo.DeleteDataset(ctx, binding.ID))
	require.NoError(t, repo.DeleteDataset(ctx, binding.ID)) // no-op-safe

	// Token usage.
	record := &domain.TokenUsageRecord{
		ID:           domain.NewTokenUsageRecordID(),
		UserID:       principal.ID,
		ModelName:    "gpt-5",
		InputTokens:  10,
		OutputTokens: 5,
		Timestamp:    time.Now().UTC(),
	}
	require.NoError(t, repo.Record(ctx, record))

	total, oldest, err := repo.SumWindow(ctx, principal.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(15), total)
	require.False(t, oldest.IsZero())

	require.NoError(t, repo.DeleteConversation(ctx, conv.ID))
	require.NoError(t, repo.Close())
}
