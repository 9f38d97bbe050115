package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/api/handlers"
	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/generation"
	"github.com/BaSui01/inkflow/internal/cache"
	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/internal/metrics"
	"github.com/BaSui01/inkflow/internal/server"
	"github.com/BaSui01/inkflow/internal/telemetry"
	"github.com/BaSui01/inkflow/internal/tlsutil"
	"github.com/BaSui01/inkflow/llm/image"
	"github.com/BaSui01/inkflow/storage"
)

// Server 持有一次 serve 运行的全部组件, 按依赖顺序启动, 逆序关闭.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector
	pool      *database.PoolManager
	cache     *cache.Manager
	registry  *config.ProviderRegistry
	watcher   *config.FileWatcher

	orchestrator *generation.Orchestrator
	history      *storage.HistoryService
	images       *storage.ImageStore

	health     *handlers.HealthHandler
	httpServer *server.Manager
	metricsSrv *server.Manager

	// 后台任务 (限流清理、历史清理、连接池指标)
	cancel context.CancelFunc
}

// NewServer 创建服务器, 组件在 Start 中初始化.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化所有组件并启动 HTTP 与 Metrics 服务.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	otelProviders, err := telemetry.Init(s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = otelProviders

	s.collector = metrics.NewCollector("inkflow", s.logger)

	if err := s.initStorage(); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	if err := s.initGeneration(ctx); err != nil {
		return fmt.Errorf("failed to init generation: %w", err)
	}

	router := s.routes(ctx)
	s.httpServer = server.NewManager("api", router, s.serverConfig(s.cfg.Server.HTTPPort), s.logger)
	if err := s.httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mcfg := s.serverConfig(s.cfg.Server.MetricsPort)
		mcfg.TLSCertFile, mcfg.TLSKeyFile = "", ""
		mcfg.WriteTimeout = 30 * time.Second
		s.metricsSrv = server.NewManager("metrics", mux, mcfg, s.logger)
		if err := s.metricsSrv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if s.cfg.Storage.CleanupInterval > 0 {
		go s.history.RunCleanup(ctx, s.cfg.Storage.CleanupInterval)
	}
	go s.recordPoolStats(ctx)

	s.logger.Info("all servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("task_store", s.cfg.Generation.TaskStore),
		zap.Bool("auth_enabled", s.cfg.JWT.Enabled()),
	)
	return nil
}

func (s *Server) serverConfig(port int) server.Config {
	c := server.DefaultConfig()
	c.Addr = fmt.Sprintf(":%d", port)
	if s.cfg.Server.ReadTimeout > 0 {
		c.ReadTimeout = s.cfg.Server.ReadTimeout
	}
	if s.cfg.Server.WriteTimeout > 0 {
		c.WriteTimeout = s.cfg.Server.WriteTimeout
	}
	if s.cfg.Server.ShutdownTimeout > 0 {
		c.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	}
	c.TLSCertFile = s.cfg.Server.TLSCertFile
	c.TLSKeyFile = s.cfg.Server.TLSKeyFile
	return c
}

// initStorage 打开数据库并创建图片、历史与覆盖配置存储.
func (s *Server) initStorage() error {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFromDatabase(s.cfg.Database), s.logger)
	if err != nil {
		return err
	}
	s.pool = pool

	if s.cfg.Storage.AutoMigrate {
		if err := storage.AutoMigrate(db); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		s.logger.Info("database schema auto-migrated")
	}

	opts := []storage.Option{storage.WithLogger(s.logger), storage.WithMetrics(s.collector)}
	s.images = storage.NewImageStore(db, s.cfg.Storage.ThumbnailSide, opts...)
	s.history = storage.NewHistoryService(pool, s.images, s.cfg.Storage.HistoryTTL, opts...)

	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewPingCheck("database", pool.Ping))
	return nil
}

// initGeneration 加载提供者注册表并组装编排器.
func (s *Server) initGeneration(ctx context.Context) error {
	gen := s.cfg.Generation

	registry, err := config.LoadProviderRegistry(gen.ProvidersFile, s.logger)
	if err != nil {
		return err
	}
	s.registry = registry
	if gen.ProvidersPollInterval > 0 {
		w, err := registry.Watch(ctx, gen.ProvidersPollInterval)
		if err != nil {
			s.logger.Warn("provider registry hot reload disabled", zap.Error(err))
		} else {
			s.watcher = w
		}
	}
	s.health.RegisterCheck(handlers.NewProviderCheck(func() (string, error) {
		name, _, err := registry.Lookup("")
		return name, err
	}))

	overlays := storage.NewProviderOverlays(s.pool.DB(), storage.WithLogger(s.logger), storage.WithMetrics(s.collector))
	resolver := config.NewProviderResolver(registry, overlays, gen, s.logger,
		image.WithHTTPClient(tlsutil.SecureHTTPClient(0)))

	store, err := s.taskStore()
	if err != nil {
		return err
	}

	orchOpts := []generation.Option{
		generation.WithHistoryHook(s.history),
		generation.WithMetrics(s.collector),
		generation.WithLogger(s.logger),
	}
	if gen.PromptTemplate != "" {
		builder, err := generation.LoadTemplatePromptBuilder(gen.PromptTemplate)
		if err != nil {
			return fmt.Errorf("load prompt template: %w", err)
		}
		orchOpts = append(orchOpts, generation.WithPromptBuilder(builder))
	}

	orch, err := generation.NewOrchestrator(generation.Config{
		MaxConcurrency: gen.MaxConcurrency,
		RateLimit:      gen.RateLimit,
		RateBurst:      gen.RateBurst,
		ReferenceTTL:   gen.ReferenceTTL,
		ImageURLPrefix: gen.ImageURLPrefix,
	}, resolver, s.images, store, orchOpts...)
	if err != nil {
		return err
	}
	s.orchestrator = orch
	return nil
}

// taskStore 按配置选择任务状态后端.
func (s *Server) taskStore() (generation.TaskStore, error) {
	ttl := s.cfg.Generation.TaskTTL
	switch strings.ToLower(s.cfg.Generation.TaskStore) {
	case "", "memory":
		return generation.NewMemoryStore(ttl), nil
	case "redis":
		rc := s.cfg.Redis
		cc := cache.DefaultConfig()
		cc.Addr = rc.Addr
		cc.Password = rc.Password
		cc.DB = rc.DB
		cc.TLSEnabled = rc.TLSEnabled
		if rc.KeyPrefix != "" {
			cc.KeyPrefix = rc.KeyPrefix
		}
		if rc.PoolSize > 0 {
			cc.PoolSize = rc.PoolSize
		}
		if rc.MinIdleConns > 0 {
			cc.MinIdleConns = rc.MinIdleConns
		}
		m, err := cache.NewManager(cc, s.logger)
		if err != nil {
			return nil, err
		}
		s.cache = m
		s.health.RegisterCheck(handlers.NewPingCheck("redis", m.Ping))
		return generation.NewRedisStore(m, ttl, s.logger), nil
	default:
		return nil, fmt.Errorf("unknown task store %q (supported: memory, redis)", s.cfg.Generation.TaskStore)
	}
}

func (s *Server) recordPoolStats(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.pool.Stats()
			s.collector.RecordDBConnections(s.cfg.Database.Driver, st.OpenConnections, st.Idle)
		}
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞到收到 SIGINT/SIGTERM, 然后逆序关闭.
func (s *Server) WaitForShutdown() {
	s.httpServer.WaitForShutdown(context.Background())
	s.Shutdown()
}

// Shutdown 关闭所有组件, 可在 Start 失败后调用.
func (s *Server) Shutdown() {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		_ = s.watcher.Stop()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("database close error", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
	s.logger.Info("shutdown complete")
}
