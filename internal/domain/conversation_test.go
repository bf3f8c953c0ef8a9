package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversation(t *testing.T) {
	c := NewConversation("user-1")

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "user-1", c.UserID)
	assert.Empty(t, c.Title)
	assert.False(t, c.UpdatedAt.Before(c.CreatedAt))
}

func TestConversation_ApplyAutoTitle(t *testing.T) {
	t.Run("short message becomes the title verbatim", func(t *testing.T) {
		c := NewConversation("user-1")
		changed := c.ApplyAutoTitle("analyze sales")

		assert.True(t, changed)
		assert.Equal(t, "analyze sales", c.Title)
	})

	t.Run("long message is truncated to 50 chars plus ellipsis", func(t *testing.T) {
		c := NewConversation("user-1")
		long := strings.Repeat("a", 80)
		c.ApplyAutoTitle(long)

		assert.Equal(t, 51, len([]rune(c.Title)))
		assert.True(t, strings.HasSuffix(c.Title, AutoTitleEllipsis))
	})

	t.Run("does not retitle once a title exists", func(t *testing.T) {
		c := NewConversation("user-1")
		c.ApplyAutoTitle("first message")
		changed := c.ApplyAutoTitle("second message")

		assert.False(t, changed)
		assert.Equal(t, "first message", c.Title)
	})
}

func TestParseConversationID(t *testing.T) {
	id := NewConversationID()
	parsed, err := ParseConversationID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseConversationID("not-a-uuid")
	assert.Error(t, err)
}

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenCount(""))
	assert.Equal(t, 2, EstimateTokenCount("12345678"))
}

func TestConversation_Touch_NeverBeforeCreatedAt(t *testing.T) {
	c := NewConversation("user-1")
	c.CreatedAt = time.Now().UTC().Add(time.Hour)
	c.Touch()

	assert.False(t, c.UpdatedAt.Before(c.CreatedAt))
}
