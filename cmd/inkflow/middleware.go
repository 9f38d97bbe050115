package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/api/handlers"
	"github.com/BaSui01/inkflow/internal/metrics"
	"github.com/BaSui01/inkflow/types"
)

type Middleware func(http.Handler) http.Handler

// Chain 第一个中间件在最外层.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := range middlewares {
		h = middlewares[len(middlewares)-1-i](h)
	}
	return h
}

const requestIDHeader = "X-Request-ID"

// Recovery 把 handler panic 转成 500 信封. http.ErrAbortHandler 继续上抛.
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))
				handlers.WriteErrorMessage(w, r, http.StatusInternalServerError, types.ErrInternalError, "internal server error", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID 沿用调用方的 X-Request-ID (不超过 128 字节), 否则生成 UUID.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), id)))
		})
	}
}

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	// 页面图片以 data: 或 blob: 内联预览
	{"Content-Security-Policy", "default-src 'self'; img-src 'self' data: blob:"},
}

func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, kv := range securityHeaders {
				w.Header().Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger 每个请求一行 access 日志, 5xx 用 warn.
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			level := zap.InfoLevel
			if rw.StatusCode >= http.StatusInternalServerError {
				level = zap.WarnLevel
			}
			if ce := logger.Check(level, "request"); ce != nil {
				rid, _ := types.RequestID(r.Context())
				ce.Write(
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", rw.StatusCode),
					zap.Int64("bytes", rw.Bytes),
					zap.Duration("duration", time.Since(began)),
					zap.String("remote_addr", r.RemoteAddr),
					zap.String("request_id", rid))
			}
		})
	}
}

// MetricsMiddleware path 标签用 chi 路由模板 (如 /api/images/{taskID}/{filename}),
// 避免任务 ID 撑爆基数.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)
			collector.RecordHTTPRequest(r.Method, routePattern(r), rw.StatusCode,
				time.Since(began), max(r.ContentLength, 0), rw.Bytes)
		})
	}
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return "unmatched"
	}
	return rctx.RoutePattern()
}

// OTelTracing 继承上游 traceparent 并开 server span; span 名在路由匹配后改为模板.
func OTelTracing() Middleware {
	tracer := otel.Tracer("github.com/BaSui01/inkflow/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parent := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(parent, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)))
			defer span.End()
			if sc := span.SpanContext(); sc.HasTraceID() {
				ctx = types.WithTraceID(ctx, sc.TraceID().String())
			}

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetName(r.Method + " " + routePattern(r))
			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}

// CORS 只对白名单 Origin 回写允许头. 名单外的预检请求 403, 名单为空时所有跨域预检都 403.
func CORS(allowedOrigins []string) Middleware {
	allow := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allow[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok := allow[origin]
			if ok {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}
			switch {
			case r.Method != http.MethodOptions:
				next.ServeHTTP(w, r)
			case ok:
				w.WriteHeader(http.StatusNoContent)
			default:
				w.WriteHeader(http.StatusForbidden)
			}
		})
	}
}

// MaxBodyBytes limit <= 0 不限制. 超限后 DecodeJSONBody 返回 413.
func MaxBodyBytes(limit int64) Middleware {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
