// Package retry 提供辅助调用（如下载提供者返回的图片 URL）的指数退避重试.
// 图像生成调用本身不经过此包，失败直接返回给调用方.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 重试参数. MaxRetries 为 0 时只执行一次.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Multiplier 小于 1 时按 2 处理
	Multiplier float64
	// Jitter 在延迟上叠加 ±25% 随机量, 下限仍是 InitialDelay
	Jitter bool
	// ShouldRetry 为 nil 时所有错误都重试
	ShouldRetry func(err error) bool
	// OnRetry 每次等待前调用, attempt 从 1 开始
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 下载场景用.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       true,
	}
}

func (p Policy) normalized() Policy {
	p.MaxRetries = max(p.MaxRetries, 0)
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

func (p Policy) retryable(err error) bool {
	return p.ShouldRetry == nil || p.ShouldRetry(err)
}

type Retryer interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type backoffRetryer struct {
	policy Policy
	logger *zap.Logger
}

// NewBackoffRetryer policy 为 nil 时用 DefaultPolicy. policy 被复制, 之后修改不影响.
func NewBackoffRetryer(policy *Policy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{policy: policy.normalized(), logger: logger}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	for attempt := 1; err != nil && attempt <= r.policy.MaxRetries; attempt++ {
		if !r.policy.retryable(err) {
			return err
		}
		delay := r.calculateDelay(attempt)
		r.logger.Debug("retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}
		if werr := sleep(ctx, delay); werr != nil {
			return werr
		}
		if err = fn(ctx); err == nil {
			r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
		}
	}
	if err != nil && r.policy.MaxRetries > 0 && r.policy.retryable(err) {
		r.logger.Warn("retries exhausted", zap.Int("attempts", r.policy.MaxRetries+1), zap.Error(err))
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// DoWithResult 带返回值的 Do.
func DoWithResult[T any](ctx context.Context, r Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// calculateDelay 第 attempt 次重试前的等待, InitialDelay*Multiplier^(attempt-1), 封顶 MaxDelay.
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	p := r.policy
	d := math.Min(float64(p.InitialDelay)*math.Pow(p.Multiplier, float64(attempt-1)), float64(p.MaxDelay))
	if p.Jitter {
		d += d * 0.25 * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, float64(p.InitialDelay)))
}
