package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthCheck 就绪探针依赖的一项检查.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus /health 与 /ready 的响应体. Status 取 healthy 或 unhealthy.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult Status 取 pass 或 fail.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthHandler 存活探针恒为 200; 就绪探针并发执行已注册的检查,
// 整体受 timeout 约束.
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks []HealthCheck
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		timeout: 5 * time.Second,
	}
}

// RegisterCheck 启动阶段调用; 同名检查后注册的覆盖先注册的结果.
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, check)
	h.mu.Unlock()
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := h.runChecks(r.Context(), checks)

	status := HealthStatus{Status: "healthy", Timestamp: time.Now()}
	if len(results) > 0 {
		status.Checks = make(map[string]CheckResult, len(results))
	}
	for i, res := range results {
		if res.Status == "fail" {
			status.Status = "unhealthy"
		}
		status.Checks[checks[i].Name()] = res
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) runChecks(ctx context.Context, checks []HealthCheck) []CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			start := time.Now()
			err := c.Check(ctx)
			took := time.Since(start)

			results[i] = CheckResult{Status: "pass", Latency: took.String()}
			if err != nil {
				results[i].Status = "fail"
				results[i].Message = err.Error()
				h.logger.Warn("readiness check failed",
					zap.String("check", c.Name()),
					zap.Duration("latency", took),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// HandleVersion 构建信息在启动时固定.
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}

// PingCheck 把数据库或 Redis 的 Ping 包装成 HealthCheck.
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string                    { return c.name }
func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// ProviderLookup 返回当前 active_provider 的名称, 注册表无效时报错.
type ProviderLookup func() (string, error)

// ProviderCheck 注册表里没有可用的图片提供者时就绪探针失败,
// 此时所有生成请求都会以 CONFIG_ERROR 结束.
type ProviderCheck struct {
	lookup ProviderLookup
}

func NewProviderCheck(lookup ProviderLookup) *ProviderCheck {
	return &ProviderCheck{lookup: lookup}
}

func (c *ProviderCheck) Name() string { return "image_provider" }

func (c *ProviderCheck) Check(context.Context) error {
	_, err := c.lookup()
	return err
}
