// Package cache holds the shared flag store used when several hub processes serve the same jobs.
package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"negotiation-hub/contract"

	"github.com/redis/go-redis/v9"
)

const bookedKeyPrefix = "negotiation:booked:"

var _ contract.IJobStatus = (*RedisJobStatus)(nil)

// RedisJobStatus keeps booked markers in Redis so that every process sees the same flags.
// Markers expire after ttl; zero keeps them forever.
type RedisJobStatus struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobStatus connects to url and checks the server answers.
func NewRedisJobStatus(url string, ttl time.Duration) (*RedisJobStatus, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisJobStatus{client: client, ttl: ttl}, nil
}

func (r *RedisJobStatus) MarkBooked(ctx context.Context, correlationID string) error {
	return r.client.Set(ctx, bookedKeyPrefix+correlationID, time.Now().UTC().Format(time.RFC3339), r.ttl).Err()
}

func (r *RedisJobStatus) IsBooked(ctx context.Context, correlationID string) (bool, error) {
	err := r.client.Get(ctx, bookedKeyPrefix+correlationID).Err()
	if stderrors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisJobStatus) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisJobStatus) Close() error {
	return r.client.Close()
}
