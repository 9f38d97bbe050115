package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/cache"
	"github.com/BaSui01/inkflow/types"
)

// TaskStore 保存任务状态. 对同一任务的 Update 串行执行，不同任务之间互不阻塞.
type TaskStore interface {
	// Get 返回状态快照；任务不存在时 ok=false.
	Get(ctx context.Context, taskID string) (state *TaskState, ok bool, err error)

	// Update 在任务的独占区内执行 fn，任务不存在时先创建. 返回更新后的快照.
	Update(ctx context.Context, taskID string, fn func(*TaskState) error) (*TaskState, error)

	// Delete 删除任务状态.
	Delete(ctx context.Context, taskID string) error
}

// =============================================================================
// 内存实现
// =============================================================================

const lockStripes = 64

// MemoryStore 是进程内 TaskStore，过期后自动淘汰.
type MemoryStore struct {
	items *gocache.Cache
	ttl   time.Duration
	locks [lockStripes]sync.Mutex
}

// NewMemoryStore 创建内存任务存储. ttl<=0 表示永不过期.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	exp := ttl
	if exp <= 0 {
		exp = gocache.NoExpiration
	}
	cleanup := 10 * time.Minute
	if ttl > 0 && ttl < cleanup {
		cleanup = ttl
	}
	return &MemoryStore{
		items: gocache.New(exp, cleanup),
		ttl:   exp,
	}
}

func (s *MemoryStore) lock(taskID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	return &s.locks[h.Sum32()%lockStripes]
}

// Get 实现 TaskStore.
func (s *MemoryStore) Get(_ context.Context, taskID string) (*TaskState, bool, error) {
	v, ok := s.items.Get(taskID)
	if !ok {
		return nil, false, nil
	}
	return v.(*TaskState).Clone(), true, nil
}

// Update 实现 TaskStore.
func (s *MemoryStore) Update(_ context.Context, taskID string, fn func(*TaskState) error) (*TaskState, error) {
	mu := s.lock(taskID)
	mu.Lock()
	defer mu.Unlock()

	state := NewTaskState(taskID)
	if v, ok := s.items.Get(taskID); ok {
		state = v.(*TaskState).Clone()
	}
	if err := fn(state); err != nil {
		return nil, err
	}
	state.UpdatedAt = time.Now()
	s.items.Set(taskID, state, s.ttl)
	return state.Clone(), nil
}

// Delete 实现 TaskStore.
func (s *MemoryStore) Delete(_ context.Context, taskID string) error {
	s.items.Delete(taskID)
	return nil
}

// Len 返回当前保存的任务数.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}

// =============================================================================
// Redis 实现
// =============================================================================

// RedisStore 把任务状态以 JSON 保存在 Redis，跨实例共享.
type RedisStore struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 任务存储.
func NewRedisStore(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		cache:  manager,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "task_store")),
	}
}

func taskKey(taskID string) string {
	return "task:" + taskID
}

// Get 实现 TaskStore.
func (s *RedisStore) Get(ctx context.Context, taskID string) (*TaskState, bool, error) {
	var state TaskState
	err := s.cache.GetJSON(ctx, taskKey(taskID), &state)
	if cache.IsCacheMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("load task state", err)
	}
	return state.Clone(), true, nil
}

// Update 实现 TaskStore.
func (s *RedisStore) Update(ctx context.Context, taskID string, fn func(*TaskState) error) (*TaskState, error) {
	var result *TaskState
	var fnErr error
	err := s.cache.Update(ctx, taskKey(taskID), s.ttl, func(current string, exists bool) (string, error) {
		state := NewTaskState(taskID)
		if exists {
			if err := json.Unmarshal([]byte(current), state); err != nil {
				return "", fmt.Errorf("decode task state: %w", err)
			}
			state = state.Clone()
		}
		if err := fn(state); err != nil {
			fnErr = err
			return "", err
		}
		state.UpdatedAt = time.Now()
		data, err := json.Marshal(state)
		if err != nil {
			return "", fmt.Errorf("encode task state: %w", err)
		}
		result = state
		return string(data), nil
	})
	if fnErr != nil && errors.Is(err, fnErr) {
		return nil, fnErr
	}
	if err != nil {
		s.logger.Error("task state update failed", zap.String("task_id", taskID), zap.Error(err))
		return nil, storageError("update task state", err)
	}
	return result.Clone(), nil
}

// Delete 实现 TaskStore.
func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	if err := s.cache.Delete(ctx, taskKey(taskID)); err != nil {
		return storageError("delete task state", err)
	}
	return nil
}

func storageError(op string, err error) error {
	return types.NewError(types.ErrStorage, op+" failed").WithCause(err).WithHTTPStatus(500)
}
