package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps trading state in Redis so every process in the
// pipeline shares one view. Counters use INCRBYFLOAT, which is atomic
// on the server.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if namespace == "" {
		namespace = "state"
	}
	return &RedisStore{client: redis.NewClient(opts), namespace: namespace}, nil
}

func (s *RedisStore) symbolKey(symbol string) string {
	return fmt.Sprintf("%s:symbol_exposure:%s", s.namespace, strings.ToUpper(symbol))
}

func (s *RedisStore) marketKey(market string) string {
	return fmt.Sprintf("%s:market_exposure:%s", s.namespace, strings.ToLower(market))
}

func (s *RedisStore) sideKeyName(side int) string {
	return fmt.Sprintf("%s:side_exposure:%s", s.namespace, sideKey(side))
}

func (s *RedisStore) totalKey() string {
	return s.namespace + ":total_exposure"
}

func (s *RedisStore) dailyPnLKey() string {
	return s.namespace + ":daily_realized_pnl"
}

func (s *RedisStore) getFloat(ctx context.Context, key string) (float64, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, val, err)
	}
	return parsed, nil
}

func (s *RedisStore) SymbolExposure(ctx context.Context, symbol string) (float64, error) {
	return s.getFloat(ctx, s.symbolKey(symbol))
}

func (s *RedisStore) AddSymbolExposure(ctx context.Context, symbol string, delta float64) error {
	return s.client.IncrByFloat(ctx, s.symbolKey(symbol), delta).Err()
}

func (s *RedisStore) TotalExposure(ctx context.Context) (float64, error) {
	return s.getFloat(ctx, s.totalKey())
}

func (s *RedisStore) AddTotalExposure(ctx context.Context, delta float64) error {
	return s.client.IncrByFloat(ctx, s.totalKey(), delta).Err()
}

func (s *RedisStore) MarketExposure(ctx context.Context, market string) (float64, error) {
	return s.getFloat(ctx, s.marketKey(market))
}

func (s *RedisStore) AddMarketExposure(ctx context.Context, market string, delta float64) error {
	return s.client.IncrByFloat(ctx, s.marketKey(market), delta).Err()
}

func (s *RedisStore) SideExposure(ctx context.Context, side int) (float64, error) {
	return s.getFloat(ctx, s.sideKeyName(side))
}

func (s *RedisStore) AddSideExposure(ctx context.Context, side int, delta float64) error {
	return s.client.IncrByFloat(ctx, s.sideKeyName(side), delta).Err()
}

func (s *RedisStore) ReplaceExposureSnapshot(ctx context.Context, snap ExposureSnapshot) error {
	patterns := []string{
		s.namespace + ":symbol_exposure:*",
		s.namespace + ":market_exposure:*",
		s.namespace + ":side_exposure:*",
	}
	for _, pattern := range patterns {
		iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
		var stale []string
		for iter.Next(ctx) {
			stale = append(stale, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(stale) > 0 {
			if err := s.client.Del(ctx, stale...).Err(); err != nil {
				return fmt.Errorf("delete stale exposure keys: %w", err)
			}
		}
	}

	pipe := s.client.Pipeline()
	for symbol, exposure := range snap.SymbolExposure {
		pipe.Set(ctx, s.symbolKey(symbol), strconv.FormatFloat(exposure, 'f', -1, 64), 0)
	}
	for market, exposure := range snap.MarketExposure {
		pipe.Set(ctx, s.marketKey(market), strconv.FormatFloat(exposure, 'f', -1, 64), 0)
	}
	pipe.Set(ctx, s.sideKeyName(1), strconv.FormatFloat(snap.SideExposure["long"], 'f', -1, 64), 0)
	pipe.Set(ctx, s.sideKeyName(-1), strconv.FormatFloat(snap.SideExposure["short"], 'f', -1, 64), 0)
	pipe.Set(ctx, s.totalKey(), strconv.FormatFloat(snap.TotalExposure, 'f', -1, 64), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write exposure snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) DailyRealizedPnL(ctx context.Context) (float64, error) {
	return s.getFloat(ctx, s.dailyPnLKey())
}

func (s *RedisStore) AddDailyRealizedPnL(ctx context.Context, delta float64) error {
	return s.client.IncrByFloat(ctx, s.dailyPnLKey(), delta).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
