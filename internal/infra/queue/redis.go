package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
)

// RescanQueue is a Redis sorted set of page IDs scored by due time. ZAddNX
// keeps one pending rescan per page; scheduling again while one is queued is
// a no-op.
type RescanQueue struct {
	client *redis.Client
	key    string
}

func NewRescanQueue(addr, key string) *RescanQueue {
	if key == "" {
		key = "shopwatch:rescan"
	}
	return &RescanQueue{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
	}
}

func (q *RescanQueue) Close() error {
	return q.client.Close()
}

// Schedule queues a rescan for the page at the given time. Returns false when
// the page already has a pending rescan.
func (q *RescanQueue) Schedule(ctx context.Context, pageID pages.PageID, at time.Time) (bool, error) {
	added, err := q.client.ZAddNX(ctx, q.key, redis.Z{
		Score:  float64(at.Unix()),
		Member: string(pageID),
	}).Result()
	if err != nil {
		return false, err
	}
	return added > 0, nil
}

// Due pops every page whose rescan time has passed.
func (q *RescanQueue) Due(ctx context.Context, now time.Time) ([]pages.PageID, error) {
	members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(members))
	ids := make([]pages.PageID, len(members))
	for i, m := range members {
		args[i] = m
		ids[i] = pages.PageID(m)
	}
	if err := q.client.ZRem(ctx, q.key, args...).Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
