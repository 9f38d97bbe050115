package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/api/handlers"
	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/metrics"
	"github.com/BaSui01/inkflow/types"
)

// routeSet 是路由需要的全部 handler.
type routeSet struct {
	generation *handlers.GenerationHandler
	history    *handlers.HistoryHandler
	health     *handlers.HealthHandler
}

func (s *Server) routes(ctx context.Context) http.Handler {
	return newRouter(ctx, s.cfg, routeSet{
		generation: handlers.NewGenerationHandler(s.orchestrator, s.images, s.history, s.logger),
		history:    handlers.NewHistoryHandler(s.history, s.logger),
		health:     s.health,
	}, s.collector, s.logger)
}

// newRouter 组装 chi 路由. 健康检查不经过认证与请求体限制.
func newRouter(ctx context.Context, cfg *config.Config, h routeSet, collector *metrics.Collector, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(collector),
		RequestLogger(logger),
		CORS(cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, float64(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst, logger),
	)

	r.Get("/health", h.health.HandleHealth)
	r.Get("/healthz", h.health.HandleHealth)
	r.Get("/ready", h.health.HandleReady)
	r.Get("/readyz", h.health.HandleReady)
	r.Get("/version", h.health.HandleVersion(Version, BuildTime, GitCommit))

	r.Route("/api", func(r chi.Router) {
		r.Use(JWTAuth(cfg.JWT, logger), MaxBodyBytes(cfg.Server.MaxBodyBytes))

		r.Post("/generate", h.generation.HandleGenerate)
		r.Get("/generate/ws", h.generation.HandleGenerateWS(handlers.WSOptions{
			OriginPatterns: cfg.Server.CORSAllowedOrigins,
		}))
		r.Post("/retry", h.generation.HandleRetry)
		r.Post("/retry-failed", h.generation.HandleRetryFailed)
		r.Post("/regenerate", h.generation.HandleRegenerate)
		r.Get("/task/{taskID}", h.generation.HandleTaskState)
		r.Get("/images/{taskID}/{filename}", h.generation.HandleImage)

		r.Post("/history", h.history.HandleCreate)
		r.Get("/history/{taskID}", h.history.HandleGet)
		r.Post("/history/{taskID}/sync", h.history.HandleSync)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", nil)
	})
	return r
}
