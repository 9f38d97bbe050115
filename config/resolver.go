package config

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/llm/image"
	"github.com/BaSui01/inkflow/types"
)

// CategoryImage 是提供者覆盖配置的类别.
const CategoryImage = "image"

// ProviderOverlay 是数据库中对注册表条目的覆盖. 空字段不覆盖.
type ProviderOverlay struct {
	Type               string
	APIKey             string
	BaseURL            string
	Model              string
	Quality            string
	DefaultSize        string
	DefaultAspectRatio string
}

// OverlaySource 读取全局与用户级覆盖配置，不存在时返回 nil.
type OverlaySource interface {
	GlobalOverlay(ctx context.Context, category, provider string) (*ProviderOverlay, error)
	UserOverlay(ctx context.Context, userID, category, provider string) (*ProviderOverlay, error)
}

// 需要 base_url 的提供者类型
var baseURLRequired = map[string]bool{
	"openai":            true,
	"openai_compatible": true,
	"image_api":         true,
}

// ProviderResolver 按 注册表 → 全局覆盖 → 用户覆盖 的顺序计算生效配置并创建提供者.
// 每次调用都重新读取，重试总能看到最新配置.
type ProviderResolver struct {
	registry *ProviderRegistry
	overlays OverlaySource
	defaults GenerationConfig
	opts     []image.Option
	logger   *zap.Logger
}

// NewProviderResolver 创建解析器. overlays 可以为 nil.
func NewProviderResolver(registry *ProviderRegistry, overlays OverlaySource, defaults GenerationConfig,
	logger *zap.Logger, opts ...image.Option) *ProviderResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProviderResolver{
		registry: registry,
		overlays: overlays,
		defaults: defaults,
		opts:     append(opts, image.WithLogger(logger)),
		logger:   logger.With(zap.String("component", "provider_resolver")),
	}
}

// Resolve 返回用户当前生效的提供者.
func (r *ProviderResolver) Resolve(ctx context.Context, userID string) (image.Provider, error) {
	cfg, err := r.EffectiveConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	return image.NewProvider(cfg, r.opts...)
}

// EffectiveConfig 计算并校验生效配置.
func (r *ProviderResolver) EffectiveConfig(ctx context.Context, userID string) (image.Config, error) {
	name, entry, err := r.registry.Lookup("")
	if err != nil {
		return image.Config{}, err
	}
	entry = r.applyOverlays(ctx, userID, name, entry)

	if entry.Type == "" {
		entry.Type = "image_api"
	}
	if entry.APIKey == "" {
		return image.Config{}, types.NewConfigError(
			"image provider %q has no api key; set api_key in settings or the provider registry", name).WithProvider(name)
	}
	if baseURLRequired[entry.Type] && entry.BaseURL == "" {
		return image.Config{}, types.NewConfigError(
			"image provider %q of type %s requires a base_url", name, entry.Type).WithProvider(name)
	}
	return r.toImageConfig(name, entry), nil
}

func (r *ProviderResolver) applyOverlays(ctx context.Context, userID, name string, entry ProviderEntry) ProviderEntry {
	if r.overlays == nil {
		return entry
	}

	global, err := r.overlays.GlobalOverlay(ctx, CategoryImage, name)
	if err != nil {
		r.logger.Warn("global provider overlay unavailable, using registry config",
			zap.String("provider", name), zap.Error(err))
		return entry
	}
	effective := entry
	if global != nil {
		effective = mergeOverlay(effective, *global, true)
	}

	if userID == "" {
		return effective
	}
	user, err := r.overlays.UserOverlay(ctx, userID, CategoryImage, name)
	if err != nil {
		r.logger.Warn("user provider overlay unavailable, using registry config",
			zap.String("provider", name), zap.String("user_id", userID), zap.Error(err))
		return entry
	}
	if user != nil {
		// 用户配置了 api_key 时整体覆盖，否则只覆盖非密钥字段；type 只能由全局配置修改
		u := *user
		u.Type = ""
		effective = mergeOverlay(effective, u, u.APIKey != "")
	}
	return effective
}

func mergeOverlay(e ProviderEntry, o ProviderOverlay, withKey bool) ProviderEntry {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if withKey {
		set(&e.APIKey, o.APIKey)
	}
	set(&e.Type, o.Type)
	set(&e.BaseURL, o.BaseURL)
	set(&e.Model, o.Model)
	set(&e.Quality, o.Quality)
	set(&e.DefaultSize, o.DefaultSize)
	set(&e.DefaultAspectRatio, o.DefaultAspectRatio)
	return e
}

func (r *ProviderResolver) toImageConfig(name string, e ProviderEntry) image.Config {
	size := e.ImageSize
	if size == "" {
		size = e.DefaultSize
	}
	maxKB := e.ReferenceMaxKB
	if maxKB <= 0 {
		maxKB = r.defaults.ReferenceMaxKB
	}
	selection := e.Selection
	if selection == "" {
		selection = r.defaults.Selection
	}
	return image.Config{
		Name:               name,
		Type:               e.Type,
		APIKey:             e.APIKey,
		BaseURL:            e.BaseURL,
		Model:              e.Model,
		EndpointType:       e.EndpointType,
		DefaultAspectRatio: e.DefaultAspectRatio,
		ImageSize:          size,
		Quality:            e.Quality,
		Timeout:            time.Duration(e.Timeout) * time.Second,
		DownloadTimeout:    time.Duration(e.DownloadTimeout) * time.Second,
		ReferenceMaxKB:     maxKB,
		Selection:          image.Selection(selection),
	}
}
