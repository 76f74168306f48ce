// Package cache keeps recommendation candidates in Redis between reviews.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/fitment-ingest/internal/types"
)

const (
	DefaultTTL = 10 * time.Minute
	keyPrefix  = "fitment-ingest:recs:"
)

// NewRedisClient parses url and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

// Recommendations caches candidate lists per tenant and part id.
type Recommendations struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRecommendations(rdb redis.Cmdable, ttl time.Duration) *Recommendations {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Recommendations{rdb: rdb, ttl: ttl}
}

func key(tenantID, partID string) string {
	return keyPrefix + tenantID + ":" + partID
}

// Get returns the cached list. A miss is (nil, false, nil).
func (r *Recommendations) Get(ctx context.Context, tenantID, partID string) ([]types.Candidate, bool, error) {
	raw, err := r.rdb.Get(ctx, key(tenantID, partID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []types.Candidate
	if err := json.Unmarshal(raw, &out); err != nil {
		// treat a corrupt entry as a miss; the next Set overwrites it
		return nil, false, nil
	}
	return out, true, nil
}

func (r *Recommendations) Set(ctx context.Context, tenantID, partID string, cands []types.Candidate) error {
	b, err := json.Marshal(cands)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, key(tenantID, partID), b, r.ttl).Err()
}

// Invalidate drops every cached list of a tenant.
func (r *Recommendations) Invalidate(ctx context.Context, tenantID string) (int, error) {
	var n int
	iter := r.rdb.Scan(ctx, 0, keyPrefix+tenantID+":*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(batch) > 0 {
		deleted, err := r.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return 0, err
		}
		n = int(deleted)
	}
	return n, nil
}
