package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat/internal/model"
)

func newTestCache(t *testing.T) (*HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHistoryCache(client, time.Minute, 5*time.Second), mr
}

func TestHistoryCacheMissThenHit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, hit, err := c.GetHistory(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, hit)

	messages := []model.Message{
		{ID: "m1", ConversationID: "conv-1", Role: model.RoleUser, Content: "hi"},
		{ID: "m2", ConversationID: "conv-1", Role: model.RoleAssistant, Content: "hello"},
	}
	require.NoError(t, c.SetHistory(ctx, "conv-1", messages))

	cached, hit, err := c.GetHistory(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, cached, 2)
	assert.Equal(t, "m1", cached[0].ID)
	assert.Equal(t, model.RoleAssistant, cached[1].Role)

	// Entries for one conversation do not bleed into another.
	_, hit, err = c.GetHistory(ctx, "conv-2")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestHistoryCacheDeleteAndDirtyMarker(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetHistory(ctx, "conv-1", []model.Message{{ID: "m1", Role: model.RoleUser}}))
	require.NoError(t, c.MarkDirty(ctx, "conv-1"))
	require.NoError(t, c.DeleteHistory(ctx, "conv-1"))

	_, hit, err := c.GetHistory(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, hit)

	dirty, err := c.IsDirty(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, dirty)

	// The marker expires on its own; readers may repopulate afterwards.
	mr.FastForward(6 * time.Second)
	dirty, err = c.IsDirty(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, dirty)
}
