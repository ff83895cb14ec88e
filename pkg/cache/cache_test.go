package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/aura-webinar/recordings/pkg/cache"
)

func TestRedisCacheTTL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	uut := cache.NewRedis(client, "ut:", nil)

	_, err := uut.Get(ctx, "missing")
	assert.ErrorIs(err, cache.ErrMiss)

	assert.NoError(uut.Set(ctx, "short", []byte("v1"), time.Second))
	assert.NoError(uut.Set(ctx, "forever", []byte("v2"), 0))
	assert.True(mr.Exists("ut:short"))

	v, err := uut.Get(ctx, "short")
	assert.NoError(err)
	assert.Equal([]byte("v1"), v)

	mr.FastForward(2 * time.Second)
	_, err = uut.Get(ctx, "short")
	assert.ErrorIs(err, cache.ErrMiss)
	v, err = uut.Get(ctx, "forever")
	assert.NoError(err)
	assert.Equal([]byte("v2"), v)

	assert.NoError(uut.Delete(ctx, "forever"))
	assert.NoError(uut.Delete(ctx, "forever"))
	_, err = uut.Get(ctx, "forever")
	assert.ErrorIs(err, cache.ErrMiss)
}
