package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/tlsutil"
)

var (
	// ErrCacheMiss 键不存在.
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed Close 之后的任何调用都返回它.
	ErrClosed = errors.New("cache manager is closed")
	// ErrSkipWrite 由 UpdateFunc 返回时放弃本次写入, Update 返回 nil.
	ErrSkipWrite = errors.New("skip write")
)

// IsCacheMiss reports whether err wraps ErrCacheMiss.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Config Redis 连接参数.
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// KeyPrefix 自动拼在每个键前面
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// DefaultTTL 调用方传 0 时使用
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	MaxRetries   int  `yaml:"max_retries" json:"max_retries"`
	PoolSize     int  `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int  `yaml:"min_idle_conns" json:"min_idle_conns"`
	TLSEnabled   bool `yaml:"tls_enabled" json:"tls_enabled"`

	// HealthCheckInterval <= 0 关闭后台探活
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 本地开发默认值.
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "inkflow:",
		DefaultTTL:          24 * time.Hour,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager 持有 Redis 客户端, 所有键都带 KeyPrefix.
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// NewManager 连接 Redis 并在 5 秒内 Ping 一次, 失败直接返回错误.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	return newManager(redis.NewClient(opts), cfg, logger)
}

func newManager(client *redis.Client, cfg Config, logger *zap.Logger) (*Manager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr, err)
	}

	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go m.probe(cfg.HealthCheckInterval)
	}
	m.logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.String("prefix", cfg.KeyPrefix))
	return m, nil
}

// do 在读锁下执行 fn; 已关闭时返回 ErrClosed.
func (m *Manager) do(fn func(c *redis.Client) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(m.client)
}

func (m *Manager) ttl(d time.Duration) time.Duration {
	if d == 0 {
		return m.cfg.DefaultTTL
	}
	return d
}

// GetJSON 读取键并解码到 dest, 键不存在时返回 ErrCacheMiss.
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	var raw []byte
	err := m.do(func(c *redis.Client) error {
		var err error
		raw, err = c.Get(ctx, m.cfg.KeyPrefix+key).Bytes()
		return err
	})
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Delete 删除若干键, 不存在的键忽略.
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, m.cfg.KeyPrefix+k)
	}
	return m.do(func(c *redis.Client) error {
		if err := c.Del(ctx, full...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	})
}

// maxUpdateAttempts WATCH 冲突重试上限.
const maxUpdateAttempts = 16

// UpdateFunc 收到当前值 (exists=false 表示键不存在), 返回要写回的新值.
type UpdateFunc func(current string, exists bool) (string, error)

// Update 用 WATCH/MULTI 对单个键做读改写. 同键并发时冲突方重试,
// 不同键互不影响. fn 返回的错误原样透传.
func (m *Manager) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	full := m.cfg.KeyPrefix + key
	expiry := m.ttl(ttl)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, full).Result()
		exists := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, full, next, expiry)
			return nil
		})
		return err
	}

	return m.do(func(c *redis.Client) error {
		for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
			err := c.Watch(ctx, txf, full)
			switch {
			case errors.Is(err, redis.TxFailedErr):
				m.logger.Debug("watch conflict", zap.String("key", key), zap.Int("attempt", attempt))
			case errors.Is(err, ErrSkipWrite):
				return nil
			default:
				return err
			}
		}
		return fmt.Errorf("update %s: gave up after %d conflicts", key, maxUpdateAttempts)
	})
}

// Ping 供就绪检查使用.
func (m *Manager) Ping(ctx context.Context) error {
	return m.do(func(c *redis.Client) error {
		return c.Ping(ctx).Err()
	})
}

// Close 停止探活并关闭连接, 重复调用返回 nil.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.logger.Info("redis connection closed")
	return m.client.Close()
}

func (m *Manager) probe(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.Ping(ctx)
		cancel()
		switch {
		case errors.Is(err, ErrClosed):
			return
		case err != nil:
			m.logger.Warn("redis probe failed", zap.Error(err))
		}
	}
}
