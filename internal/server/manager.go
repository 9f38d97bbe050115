package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/tlsutil"
)

// Config 单个 http.Server 的监听与超时参数.
type Config struct {
	// ":0" 随机端口, 测试用
	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
	// 事件流连接要撑到最后一页出图, 0 不限
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`
}

// TLSEnabled 证书和私钥同时配置才算.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}
}

type state int

const (
	stateIdle state = iota
	stateServing
	stateClosed
)

// Manager 管理一个 http.Server 的监听, 后台服务与优雅关闭.
// 关闭后不能再次 Start.
type Manager struct {
	name   string
	cfg    Config
	srv    *http.Server
	logger *zap.Logger
	errs   chan error

	mu    sync.RWMutex
	st    state
	bound net.Addr
}

// NewManager name 只出现在日志里, 如 "api" 或 "metrics".
func NewManager(name string, handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	if cfg.TLSEnabled() {
		srv.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	return &Manager{
		name:   name,
		cfg:    cfg,
		srv:    srv,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", name)),
		errs:   make(chan error, 1),
	}
}

// Start 同步完成监听, 之后在后台 goroutine 里服务.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.st {
	case stateServing:
		return fmt.Errorf("server %s already started", m.name)
	case stateClosed:
		return fmt.Errorf("server %s is closed", m.name)
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.bound = ln.Addr()
	m.st = stateServing

	serve := func() error { return m.srv.Serve(ln) }
	scheme := "http"
	if m.cfg.TLSEnabled() {
		serve = func() error { return m.srv.ServeTLS(ln, m.cfg.TLSCertFile, m.cfg.TLSKeyFile) }
		scheme = "https"
	}
	m.logger.Info("listening", zap.String("scheme", scheme), zap.Stringer("addr", m.bound))

	go func() {
		err := serve()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.logger.Error("server failed", zap.Error(err))
		select {
		case m.errs <- err:
		default:
		}
	}()
	return nil
}

// Shutdown 最多等 ShutdownTimeout 让在途请求结束. 重复调用返回 nil.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st == stateClosed {
		return nil
	}
	m.st = stateClosed

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	m.bound = nil
	m.logger.Info("server stopped")
	return nil
}

// WaitForShutdown 等 SIGINT/SIGTERM, ctx 结束或服务异常退出三者之一, 然后关闭.
func (m *Manager) WaitForShutdown(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		m.logger.Info("shutdown requested")
	case err := <-m.errs:
		m.logger.Error("server exited", zap.Error(err))
	}
	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown", zap.Error(err))
	}
}

// Errors 后台 Serve 的非正常退出错误, 至多一个.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

// Addr 监听中返回实际地址, 否则返回配置地址.
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.bound != nil {
		return m.bound.String()
	}
	return m.cfg.Addr
}

// IsRunning 未关闭即为 true, 包括尚未 Start.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st != stateClosed
}
