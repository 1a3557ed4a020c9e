package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/model"
)

func setupCache(t *testing.T, ttl time.Duration) (*AnswerCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAnswerCache(client, ttl), mr
}

func TestAnswerCache_SetAndGet(t *testing.T) {
	c, _ := setupCache(t, time.Minute)
	ctx := context.Background()

	answer := &model.Answer{
		Answer: "The warranty lasts two years [1].",
		Sources: []model.Source{
			{DocumentID: 1, Filename: "manual.pdf", Page: 4, ChunkIndex: 9, Content: "warranty...", Score: 0.91},
		},
	}
	require.NoError(t, c.SetAnswer(ctx, "1@100|k=4|how long is the warranty", answer))

	got, hit, err := c.GetAnswer(ctx, "1@100|k=4|how long is the warranty")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, answer, got)
}

func TestAnswerCache_Miss(t *testing.T) {
	c, _ := setupCache(t, time.Minute)

	got, hit, err := c.GetAnswer(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Nil(t, got)
}

func TestAnswerCache_Expires(t *testing.T) {
	c, mr := setupCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetAnswer(ctx, "k", &model.Answer{Answer: "a"}))
	mr.FastForward(2 * time.Minute)

	_, hit, err := c.GetAnswer(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestAnswerCache_KeysAreHashed(t *testing.T) {
	c, mr := setupCache(t, time.Minute)

	require.NoError(t, c.SetAnswer(context.Background(), "a question with spaces", &model.Answer{Answer: "a"}))
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], answerKeyPrefix)
	assert.NotContains(t, keys[0], " ")
}

func TestAnswerCache_CorruptEntry(t *testing.T) {
	c, mr := setupCache(t, time.Minute)

	require.NoError(t, mr.Set(c.redisKey("bad"), "{not json"))
	_, hit, err := c.GetAnswer(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, hit)
}
