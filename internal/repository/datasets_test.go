package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajeee/chatdf/internal/domain"
)

func TestMarshalUnmarshalDatasetSchema_RoundTrips(t *testing.T) {
	max := 99.5
	binding := &domain.DatasetBinding{
		Schema: []domain.ColumnSchema{
			{Name: "price", Type: "float64", Stats: domain.ColumnStats{Max: &max}},
		},
	}
	require.NoError(t, marshalDatasetSchema(binding))
	assert.NotEmpty(t, binding.SchemaJSON)

	decoded := &domain.DatasetBinding{SchemaJSON: binding.SchemaJSON}
	require.NoError(t, unmarshalDatasetSchema(decoded))
	require.Len(t, decoded.Schema, 1)
	assert.Equal(t, "price", decoded.Schema[0].Name)
	require.NotNil(t, decoded.Schema[0].Stats.Max)
	assert.Equal(t, 99.5, *decoded.Schema[0].Stats.Max)
}

func TestMarshalDatasetSchema_EmptyWhenNilSchema(t *testing.T) {
	binding := &domain.DatasetBinding{}
	require.NoError(t, marshalDatasetSchema(binding))
	assert.Equal(t, "", binding.SchemaJSON)
}

func TestUnmarshalDatasetSchema_NoOpWhenEmptyJSON(t *testing.T) {
	binding := &domain.DatasetBinding{}
	require.NoError(t, unmarshalDatasetSchema(binding))
	assert.Nil(t, binding.Schema)
}

func TestConversationCacheKey_Format(t *testing.T) {
	assert.Equal(t, "conv:abc-123", conversationCacheKey(domain.ConversationID("abc-123")))
}
