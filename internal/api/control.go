package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	strategyActiveKey = "strategy:active"
	runtimeConfigKey  = "runtime:config"
)

// ControlStore holds the orchestrator's shared runtime switches: the
// strategy on/off flag and the ad-hoc config hash.
type ControlStore interface {
	Ping(ctx context.Context) error
	SetStrategyActive(ctx context.Context, active bool) error
	StrategyActive(ctx context.Context) (bool, error)
	UpdateConfig(ctx context.Context, values map[string]string) (map[string]string, error)
}

// RedisControl is the production ControlStore. The pipeline process
// reads the same keys.
type RedisControl struct {
	client *redis.Client
}

func NewRedisControl(client *redis.Client) *RedisControl {
	return &RedisControl{client: client}
}

func (c *RedisControl) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *RedisControl) SetStrategyActive(ctx context.Context, active bool) error {
	value := "0"
	if active {
		value = "1"
	}
	if err := c.client.Set(ctx, strategyActiveKey, value, 0).Err(); err != nil {
		return fmt.Errorf("set strategy flag: %w", err)
	}
	return nil
}

func (c *RedisControl) StrategyActive(ctx context.Context) (bool, error) {
	value, err := c.client.Get(ctx, strategyActiveKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get strategy flag: %w", err)
	}
	return value == "1", nil
}

func (c *RedisControl) UpdateConfig(ctx context.Context, values map[string]string) (map[string]string, error) {
	if len(values) > 0 {
		fields := make(map[string]any, len(values))
		for k, v := range values {
			fields[k] = v
		}
		if err := c.client.HSet(ctx, runtimeConfigKey, fields).Err(); err != nil {
			return nil, fmt.Errorf("update runtime config: %w", err)
		}
	}
	current, err := c.client.HGetAll(ctx, runtimeConfigKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read runtime config: %w", err)
	}
	return current, nil
}

// MemoryControl backs single-process paper setups and tests.
type MemoryControl struct {
	mu     sync.Mutex
	active bool
	values map[string]string
}

func NewMemoryControl() *MemoryControl {
	return &MemoryControl{values: make(map[string]string)}
}

func (c *MemoryControl) Ping(ctx context.Context) error { return nil }

func (c *MemoryControl) SetStrategyActive(ctx context.Context, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = active
	return nil
}

func (c *MemoryControl) StrategyActive(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, nil
}

func (c *MemoryControl) UpdateConfig(ctx context.Context, values map[string]string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.values[k] = v
	}
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out, nil
}
