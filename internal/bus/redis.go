package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBus is the shared-log EventBus backed by Redis streams. The
// server assigns record ids, so multiple writers stay ordered.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBus{client: redis.NewClient(opts)}, nil
}

// NewRedisBusFromClient wraps an existing client, sharing its pool.
func NewRedisBusFromClient(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"payload": string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (b *RedisBus) Read(ctx context.Context, stream, lastID string, block int, count int) ([]Record, error) {
	res, err := b.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   time.Duration(block) * time.Millisecond,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xread %s: %w", stream, err)
	}

	var out []Record
	for _, streamRes := range res {
		for _, msg := range streamRes.Messages {
			raw, ok := msg.Values["payload"].(string)
			if !ok {
				continue
			}
			out = append(out, Record{ID: msg.ID, Data: []byte(raw)})
		}
	}
	return out, nil
}

// Range reads records with ids in [from, "+"] without blocking, for
// historical scans such as replay.
func (b *RedisBus) Range(ctx context.Context, stream, from string, count int) ([]Record, error) {
	msgs, err := b.client.XRangeN(ctx, stream, from, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}
	var out []Record
	for _, msg := range msgs {
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		out = append(out, Record{ID: msg.ID, Data: []byte(raw)})
	}
	return out, nil
}

// StreamLen returns the number of records in a stream.
func (b *RedisBus) StreamLen(ctx context.Context, stream string) (int64, error) {
	n, err := b.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", stream, err)
	}
	return n, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
