package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/llm/retry"
)

// ErrPoolClosed Close 之后调用 Ping 或事务方法返回.
var ErrPoolClosed = errors.New("pool is closed")

// PoolConfig sql.DB 连接池参数; HealthCheckInterval <= 0 不启动后台探活.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns        int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime     time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        5,
		MaxOpenConns:        25,
		ConnMaxLifetime:     5 * time.Minute,
		ConnMaxIdleTime:     time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// PoolConfigFromDatabase 未设置的字段取默认值. sqlite 固定单连接,
// 多个写连接会互相触发 SQLITE_BUSY.
func PoolConfigFromDatabase(cfg config.DatabaseConfig) PoolConfig {
	pc := DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		pc.MaxOpenConns, pc.MaxIdleConns = 1, 1
	}
	return pc
}

// PoolManager 历史记录与提供者覆盖配置共用的连接池.
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoolManager(db *gorm.DB, cfg PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithCancel(context.Background())
	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: cfg,
		logger: logger.With(zap.String("component", "db_pool")),
		cancel: cancel,
	}
	if cfg.HealthCheckInterval > 0 {
		pm.wg.Add(1)
		go pm.watch(ctx, cfg.HealthCheckInterval)
	}

	pm.logger.Info("database pool ready",
		zap.Int("max_open", cfg.MaxOpenConns),
		zap.Int("max_idle", cfg.MaxIdleConns),
		zap.Duration("max_lifetime", cfg.ConnMaxLifetime))
	return pm, nil
}

func (pm *PoolManager) DB() *gorm.DB {
	return pm.db
}

// Ping 用于就绪探针.
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats 由 cmd 定时上报到 db_connections_* 指标.
func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// Close 等待探活 goroutine 退出后关闭连接, 可重复调用.
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return nil
	}
	pm.closed = true
	pm.mu.Unlock()

	pm.cancel()
	pm.wg.Wait()
	pm.logger.Info("database pool closed")
	return pm.sqlDB.Close()
}

func (pm *PoolManager) watch(ctx context.Context, every time.Duration) {
	defer pm.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pm.Ping(pingCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				pm.logger.Error("database ping failed", zap.Error(err))
			}
			continue
		}
		st := pm.Stats()
		pm.logger.Debug("database ping ok",
			zap.Int("open", st.OpenConnections),
			zap.Int("in_use", st.InUse),
			zap.Int("idle", st.Idle))
	}
}

// TransactionFunc 返回错误时事务回滚.
type TransactionFunc func(tx *gorm.DB) error

func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	closed := pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return pm.db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 最多执行 attempts 次, 只重试死锁, 锁超时,
// 断连与 SQLITE_BUSY 这类瞬时错误.
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, attempts int, fn TransactionFunc) error {
	if attempts < 1 {
		attempts = 1
	}
	r := retry.NewBackoffRetryer(&retry.Policy{
		MaxRetries:   attempts - 1,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
		ShouldRetry:  isRetryableError,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			pm.logger.Warn("transaction retry",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		},
	}, pm.logger)

	err := r.Do(ctx, func(ctx context.Context) error {
		return pm.WithTransaction(ctx, fn)
	})
	if err != nil && isRetryableError(err) {
		return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
	}
	return err
}

var retryableMarkers = []string{
	"deadlock",
	"serialization failure",
	"40001",
	"lock timeout",
	"lock wait timeout",
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad connection",
	"database is locked",
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
