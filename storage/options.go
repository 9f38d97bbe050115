package storage

import (
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/metrics"
)

// Option 配置存储服务.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics 记录查询耗时.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithClock 替换时间源, 测试用.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// observe 返回一个在查询结束时调用的计时函数.
func (o options) observe(operation string) func() {
	if o.metrics == nil {
		return func() {}
	}
	start := time.Now()
	return func() { o.metrics.RecordDBQuery("inkflow", operation, time.Since(start)) }
}
