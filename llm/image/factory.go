package image

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/tlsutil"
	"github.com/BaSui01/inkflow/types"
)

type options struct {
	client     *http.Client
	logger     *zap.Logger
	downloader Downloader
	extractors []Extractor
}

// Option 定制 NewProvider 创建的提供者.
type Option func(*options)

// WithHTTPClient 替换生成请求使用的 HTTP 客户端.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

// WithLogger 设置日志记录器.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDownloader 替换 chat 模式下载图片 URL 的实现.
func WithDownloader(d Downloader) Option {
	return func(o *options) { o.downloader = d }
}

// WithExtractors 替换 chat 模式的提取链.
func WithExtractors(extractors []Extractor) Option {
	return func(o *options) { o.extractors = extractors }
}

// supportedTypes 是可由 OpenAI 兼容 HTTP 适配器服务的提供者类型.
var supportedTypes = map[string]bool{
	"":                  true,
	"image_api":         true,
	"openai":            true,
	"openai_compatible": true,
}

// NewProvider 按配置的端点类型创建 ImagesProvider 或 ChatProvider.
func NewProvider(cfg Config, opts ...Option) (Provider, error) {
	if !supportedTypes[cfg.Type] {
		return nil, types.NewConfigError("unsupported image provider type %q", cfg.Type).WithProvider(cfg.Name)
	}
	cfg = cfg.WithDefaults()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.client == nil {
		o.client = tlsutil.SecureHTTPClient(cfg.Timeout)
	}

	base := newHTTPProvider(cfg, o)
	if cfg.Mode() == ModeImages {
		return &ImagesProvider{httpProvider: base}, nil
	}

	if o.downloader == nil {
		o.downloader = NewHTTPDownloader(cfg.DownloadTimeout, nil, o.logger)
	}
	if o.extractors == nil {
		o.extractors = DefaultExtractors()
	}
	return &ChatProvider{
		httpProvider: base,
		downloader:   o.downloader,
		extractors:   o.extractors,
	}, nil
}
