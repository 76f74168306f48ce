package cache

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/fitment-ingest/internal/types"
)

func TestUnreachableRedisIsAnError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:0",
		Dialer: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, errors.New("redis disabled in tests")
		},
		MaxRetries: -1,
	})
	defer rdb.Close()
	c := NewRecommendations(rdb, 0)

	_, ok, err := c.Get(context.Background(), "acme", "P1")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Error(t, c.Set(context.Background(), "acme", "P1", nil))
}

func TestRecommendationsRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer rdb.Close()

	c := NewRecommendations(rdb, 0)
	tenantID := "test-" + t.Name()
	defer c.Invalidate(ctx, tenantID)

	_, ok, err := c.Get(ctx, tenantID, "P1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []types.Candidate{{ID: "c1", Relevance: 0.7}}
	require.NoError(t, c.Set(ctx, tenantID, "P1", want))
	got, ok, err := c.Get(ctx, tenantID, "P1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	n, err := c.Invalidate(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
