package generation

import (
	"context"

	"github.com/BaSui01/inkflow/llm/image"
)

// ProviderResolver 解析用户当前生效的图像提供者. 每次调用都重新解析，
// 因此重试总是使用最新配置. 配置不完整时返回 CONFIG_ERROR.
type ProviderResolver interface {
	Resolve(ctx context.Context, userID string) (image.Provider, error)
}

// ProviderResolverFunc 把函数适配为 ProviderResolver.
type ProviderResolverFunc func(ctx context.Context, userID string) (image.Provider, error)

// Resolve 实现 ProviderResolver.
func (f ProviderResolverFunc) Resolve(ctx context.Context, userID string) (image.Provider, error) {
	return f(ctx, userID)
}

// ImageStore 持久化生成的图片. SaveImage 返回的文件名即图片引用.
type ImageStore interface {
	SaveImage(ctx context.Context, userID, taskID string, index int, keyword string, data []byte) (filename string, err error)
	// LoadCoverImage filename 为空时按索引 0 查找.
	LoadCoverImage(ctx context.Context, userID, taskID, filename string) (data []byte, ok bool, err error)
}

// HistoryHook 在任务第一次有页面生成成功时被调用一次.
type HistoryHook interface {
	OnFirstSuccess(ctx context.Context, userID, taskID string) error
}

// HistoryHookFunc 把函数适配为 HistoryHook.
type HistoryHookFunc func(ctx context.Context, userID, taskID string) error

// OnFirstSuccess 实现 HistoryHook.
func (f HistoryHookFunc) OnFirstSuccess(ctx context.Context, userID, taskID string) error {
	return f(ctx, userID, taskID)
}

type noopHistory struct{}

func (noopHistory) OnFirstSuccess(context.Context, string, string) error { return nil }
