package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"task-api/domain"
)

type backend interface {
	CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, status *domain.Status) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	Summarize(ctx context.Context) (domain.Summary, error)
}

// Cache wraps a store with Redis-backed caching of list and summary reads.
// The cached data mirrors a single process, so the prefix must not be shared between instances.
type Cache struct {
	base   backend
	redis  *redis.Client
	ttl    time.Duration
	prefix string

	// fill holds readers that populate the cache off writers that evict it.
	fill sync.RWMutex
	// gen is part of every key and moves on each successful write, so
	// entries from before a write are unreachable even if their Del failed.
	gen uint64
}

// NewCache creates a caching wrapper using the provided Redis client, TTL and key prefix.
func NewCache(base backend, client *redis.Client, ttl time.Duration, prefix string) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if prefix == "" {
		prefix = "task-api"
	}
	return &Cache{base: base, redis: client, ttl: ttl, prefix: prefix}
}

func (c *Cache) CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error) {
	c.fill.Lock()
	defer c.fill.Unlock()

	task, err := c.base.CreateTask(ctx, in)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return task, nil
}

// GetTask always reads through to the store.
func (c *Cache) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) ListTasks(ctx context.Context, status *domain.Status) ([]domain.Task, error) {
	c.fill.RLock()
	defer c.fill.RUnlock()

	key := c.listKey(status)
	var tasks []domain.Task
	if c.load(ctx, key, &tasks) {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, status)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, tasks)
	return tasks, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) (domain.Task, error) {
	c.fill.Lock()
	defer c.fill.Unlock()

	task, err := c.base.UpdateTask(ctx, id, upd)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return task, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	c.fill.Lock()
	defer c.fill.Unlock()

	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) Summarize(ctx context.Context) (domain.Summary, error) {
	c.fill.RLock()
	defer c.fill.RUnlock()

	key := c.summaryKey()
	var sum domain.Summary
	if c.load(ctx, key, &sum) {
		return sum, nil
	}

	sum, err := c.base.Summarize(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	c.store(ctx, key, sum)
	return sum, nil
}

func (c *Cache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// evict must be called with fill held for writing.
func (c *Cache) evict(ctx context.Context) {
	keys := make([]string, 0, len(domain.Statuses)+2)
	keys = append(keys, c.summaryKey(), c.listKey(nil))
	for _, s := range domain.Statuses {
		keys = append(keys, c.listKey(&s))
	}
	c.gen++
	if c.redis == nil {
		return
	}
	// Best effort: the old keys are already unreachable.
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func (c *Cache) keyPrefix() string {
	return c.prefix + ":" + strconv.FormatUint(c.gen, 10)
}

func (c *Cache) listKey(status *domain.Status) string {
	if status == nil {
		return c.keyPrefix() + ":list:all"
	}
	return c.keyPrefix() + ":list:" + string(*status)
}

func (c *Cache) summaryKey() string {
	return c.keyPrefix() + ":summary"
}
