package cache

import (
	"context"
	"strconv"
	"time"

	goRedis "github.com/redis/go-redis/v9"
)

// DelayedQueue is a sorted set keyed by due time. Members are opaque ids.
type DelayedQueue struct {
	client goRedis.Cmdable
	key    string
}

// NewDelayedQueue constructs a queue stored under name.
func NewDelayedQueue(client goRedis.Cmdable, name string) *DelayedQueue {
	return &DelayedQueue{client: client, key: namespaced("queue", name)}
}

// Schedule enqueues member to become due at at. Re-scheduling moves an existing member.
func (q *DelayedQueue) Schedule(ctx context.Context, member string, at time.Time) error {
	return q.client.ZAdd(ctx, q.key, goRedis.Z{Score: float64(at.Unix()), Member: member}).Err()
}

// Due returns up to limit members whose due time is not after now.
func (q *DelayedQueue) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return q.client.ZRangeByScore(ctx, q.key, &goRedis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
}

// Claim removes member and reports whether this caller removed it, so concurrent pollers
// never process the same member twice.
func (q *DelayedQueue) Claim(ctx context.Context, member string) (bool, error) {
	removed, err := q.client.ZRem(ctx, q.key, member).Result()
	if err != nil {
		return false, err
	}
	return removed == 1, nil
}

// Len returns the number of queued members.
func (q *DelayedQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key).Result()
}
