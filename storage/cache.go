package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tasklane/domain"
)

type backend interface {
	GetTask(ctx context.Context, userID, taskID string) (domain.Task, error)
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	UpdateStatus(ctx context.Context, userID, taskID string, status domain.Status) (domain.Task, domain.Status, error)
	SetChecklistItem(ctx context.Context, userID, taskID, itemID string, completed bool) (domain.Task, error)
	AppendEvent(ctx context.Context, ev domain.StatusChangedEvent) error
}

// Cache wraps a backend with a Redis-backed copy of each user's task list.
// Writes evict the user's entry.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, userID); ok {
		return tasks, nil
	}
	tasks, err := c.base.ListTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.storeTasks(ctx, userID, tasks)
	return tasks, nil
}

// GetTask is served from the cached list when present.
func (c *Cache) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, userID); ok {
		for _, t := range tasks {
			if t.ID == taskID {
				return t, nil
			}
		}
	}
	return c.base.GetTask(ctx, userID, taskID)
}

// UpdateStatus always reads the backing store so the no-op check sees the
// current row.
func (c *Cache) UpdateStatus(ctx context.Context, userID, taskID string, status domain.Status) (domain.Task, domain.Status, error) {
	task, from, err := c.base.UpdateStatus(ctx, userID, taskID, status)
	if err != nil {
		return domain.Task{}, "", err
	}
	if from != task.Status {
		c.evict(ctx, userID)
	}
	return task, from, nil
}

func (c *Cache) SetChecklistItem(ctx context.Context, userID, taskID, itemID string, completed bool) (domain.Task, error) {
	task, err := c.base.SetChecklistItem(ctx, userID, taskID, itemID, completed)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, userID)
	return task, nil
}

func (c *Cache) AppendEvent(ctx context.Context, ev domain.StatusChangedEvent) error {
	return c.base.AppendEvent(ctx, ev)
}

// Ping checks the backing storage. Redis is not checked: reads fall back to
// the backing storage when it is unavailable.
func (c *Cache) Ping(ctx context.Context) error {
	if p, ok := c.base.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Evict drops the cached task list of the user.
func (c *Cache) Evict(ctx context.Context, userID string) {
	c.evict(ctx, userID)
}

func (c *Cache) loadTasks(ctx context.Context, userID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, userID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tasksCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, tasksCacheKey(userID)).Err()
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}
