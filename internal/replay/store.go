package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	// MaxTasks bounds the retained task history.
	MaxTasks = 200

	taskKeyPrefix = "replay:task:"
	taskIndexKey  = "replay:tasks:index"
)

// Store persists replay task records. Load returns (nil, nil) for an
// unknown id.
type Store interface {
	Save(ctx context.Context, task *Task) error
	Load(ctx context.Context, taskID string) (*Task, error)
	List(ctx context.Context, limit int) ([]*Task, error)
	Trim(ctx context.Context) error
}

// RedisStore keeps task JSON under "replay:task:{id}" with a zset index
// ordered by submission time, trimmed to MaxTasks.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func taskKey(taskID string) string {
	return taskKeyPrefix + taskID
}

func (s *RedisStore) Save(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode replay task %s: %w", task.TaskID, err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, taskKey(task.TaskID), raw, 0)
	pipe.ZAdd(ctx, taskIndexKey, redis.Z{
		Score:  float64(task.SubmittedAt.UnixNano()) / 1e9,
		Member: task.TaskID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save replay task %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, taskID string) (*Task, error) {
	raw, err := s.client.Get(ctx, taskKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load replay task %s: %w", taskID, err)
	}
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("decode replay task %s: %w", taskID, err)
	}
	return &task, nil
}

// List returns up to limit tasks, newest submission first.
func (s *RedisStore) List(ctx context.Context, limit int) ([]*Task, error) {
	ids, err := s.client.ZRevRange(ctx, taskIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list replay tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	raws, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch replay tasks: %w", err)
	}

	var tasks []*Task
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var task Task
		if err := json.Unmarshal([]byte(str), &task); err != nil {
			continue
		}
		tasks = append(tasks, &task)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].SubmittedAt.After(tasks[j].SubmittedAt)
	})
	return tasks, nil
}

// Trim drops the oldest tasks beyond MaxTasks.
func (s *RedisStore) Trim(ctx context.Context) error {
	count, err := s.client.ZCard(ctx, taskIndexKey).Result()
	if err != nil {
		return fmt.Errorf("count replay tasks: %w", err)
	}
	if count <= MaxTasks {
		return nil
	}

	toRemove := count - MaxTasks
	ids, err := s.client.ZRange(ctx, taskIndexKey, 0, toRemove-1).Result()
	if err != nil {
		return fmt.Errorf("list stale replay tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	members := make([]any, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		keys[i] = taskKey(id)
	}
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, taskIndexKey, members...)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trim replay tasks: %w", err)
	}
	return nil
}

// MemoryStore is the in-process Store used for paper setups and tests.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

func (s *MemoryStore) Save(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *task
	if _, ok := s.tasks[task.TaskID]; !ok {
		s.order = append(s.order, task.TaskID)
	}
	s.tasks[task.TaskID] = &copied
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []*Task
	for _, id := range s.order {
		copied := *s.tasks[id]
		tasks = append(tasks, &copied)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].SubmittedAt.After(tasks[j].SubmittedAt)
	})
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

func (s *MemoryStore) Trim(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) > MaxTasks {
		id := s.order[0]
		s.order = s.order[1:]
		delete(s.tasks, id)
	}
	return nil
}
