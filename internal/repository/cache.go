package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rajeee/chatdf/internal/domain"
)

// conversationCacheKey mirrors the teacher's "conv:<id>" cache key shape.
func conversationCacheKey(id domain.ConversationID) string {
	return fmt.Sprintf("conv:%s", id)
}

// cacheConversation populates the L1 cache with an adaptive TTL: a
// conversation updated within the last hour stays cached for a week,
// otherwise a day (grounded on chat_repository.go's cacheConversation).
func (r *Repository) cacheConversation(ctx context.Context, conv *domain.Conversation) {
	if r.redis == nil {
		return
	}
	data, err := json.Marshal(conv)
	if err != nil {
		r.logWarn(err, "marshaling conversation for cache")
		return
	}
	ttl := conversationCacheTTL
	if time.Since(conv.UpdatedAt) < hotWindow {
		ttl = hotConversationCacheTTL
	}
	if err := r.redis.Set(ctx, conversationCacheKey(conv.ID), data, ttl).Err(); err != nil {
		r.logWarn(err, "caching conversation")
	}
}

// getCachedConversation returns the cached conversation, or nil on a cache
// miss or any cache-layer error -- a miss always falls through to the
// database.
func (r *Repository) getCachedConversation(ctx context.Context, id domain.ConversationID) *domain.Conversation {
	if r.redis == nil {
		return nil
	}
	cached, err := r.redis.Get(ctx, conversationCacheKey(id)).Result()
	if err != nil {
		return nil
	}
	var conv domain.Conversation
	if err := json.Unmarshal([]byte(cached), &conv); err != nil {
		return nil
	}
	return &conv
}

func (r *Repository) extendConversationCacheTTL(ctx context.Context, id domain.ConversationID) {
	if r.redis == nil {
		return
	}
	r.redis.Expire(ctx, conversationCacheKey(id), hotConversationCacheTTL)
}

func (r *Repository) invalidateConversationCache(ctx context.Context, id domain.ConversationID) {
	if r.redis == nil {
		return
	}
	r.redis.Del(ctx, conversationCacheKey(id))
}
