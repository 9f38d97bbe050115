package main

import (
	"context"
	"net"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/inkflow/api/handlers"
	"github.com/BaSui01/inkflow/types"
)

// visitorIdle 之后该 IP 的令牌桶被回收.
const visitorIdle = 3 * time.Minute

// RateLimiter 按客户端 IP 的令牌桶限流. rps <= 0 时不限流.
// 过期访客在 ctx 结束前每分钟清理一次.
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if rps <= 0 {
			return next
		}
		visitors := gocache.New(visitorIdle, 0)
		go sweepVisitors(ctx, visitors, time.Minute)

		limiterFor := func(ip string) *rate.Limiter {
			if v, ok := visitors.Get(ip); ok {
				lim := v.(*rate.Limiter)
				visitors.SetDefault(ip, lim)
				return lim
			}
			lim := rate.NewLimiter(rate.Limit(rps), burst)
			if err := visitors.Add(ip, lim, gocache.DefaultExpiration); err != nil {
				// 并发请求抢先创建
				if v, ok := visitors.Get(ip); ok {
					return v.(*rate.Limiter)
				}
			}
			return lim
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiterFor(ip).Allow() {
				logger.Debug("rate limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", "1")
				handlers.WriteErrorMessage(w, r, http.StatusTooManyRequests, types.ErrRateLimited, "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sweepVisitors(ctx context.Context, c *gocache.Cache, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.DeleteExpired()
		}
	}
}

func clientIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
