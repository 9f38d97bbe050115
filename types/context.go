package types

import "context"

// ctxKey 私有键类型, 包外无法构造冲突的键.
type ctxKey int

const (
	keyTraceID ctxKey = iota
	keyUserID
	keyRequestID
	keyTaskID
)

func with(ctx context.Context, k ctxKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

// lookup 空字符串视为不存在.
func lookup(ctx context.Context, k ctxKey) (string, bool) {
	v, _ := ctx.Value(k).(string)
	return v, v != ""
}

// WithTraceID 由 tracing 中间件写入, 日志与错误信封读取.
func WithTraceID(ctx context.Context, id string) context.Context { return with(ctx, keyTraceID, id) }

func TraceID(ctx context.Context) (string, bool) { return lookup(ctx, keyTraceID) }

// WithUserID 由 JWT 中间件写入; 匿名模式下是配置的匿名用户.
func WithUserID(ctx context.Context, id string) context.Context { return with(ctx, keyUserID, id) }

func UserID(ctx context.Context) (string, bool) { return lookup(ctx, keyUserID) }

func WithRequestID(ctx context.Context, id string) context.Context {
	return with(ctx, keyRequestID, id)
}

func RequestID(ctx context.Context) (string, bool) { return lookup(ctx, keyRequestID) }

// WithTaskID 绑定一次生成任务, 编排器按页派生的 context 都带着它.
func WithTaskID(ctx context.Context, id string) context.Context { return with(ctx, keyTaskID, id) }

func TaskID(ctx context.Context) (string, bool) { return lookup(ctx, keyTaskID) }
