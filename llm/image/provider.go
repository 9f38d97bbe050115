package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/imaging"
	"github.com/BaSui01/inkflow/types"
)

const instrumentationName = "github.com/BaSui01/inkflow/llm/image"

// maxResponseBytes 是单次响应体的读取上限, 超出即报错而不是截断.
var maxResponseBytes int64 = 64 << 20

// httpProvider 承载两种请求模式共享的配置、HTTP 客户端与可观测性.
type httpProvider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	tracer trace.Tracer
}

func newHTTPProvider(cfg Config, o *options) httpProvider {
	return httpProvider{
		cfg:    cfg,
		client: o.client,
		logger: o.logger.With(zap.String("component", "image_provider"), zap.String("provider", cfg.Name)),
		tracer: otel.Tracer(instrumentationName),
	}
}

// Name 返回提供者名称 。
func (p *httpProvider) Name() string { return p.cfg.Name }

// Config 返回规范化后的配置副本.
func (p *httpProvider) Config() Config { return p.cfg }

// Validate 检查凭据与 base URL.
func (p *httpProvider) Validate() error {
	if p.cfg.APIKey == "" {
		return types.NewConfigError("image provider %q has no api key configured", p.cfg.Name).WithProvider(p.cfg.Name)
	}
	if p.cfg.BaseURL == "" {
		return types.NewConfigError("image provider %q has no base url configured", p.cfg.Name).WithProvider(p.cfg.Name)
	}
	if r := p.cfg.DefaultAspectRatio; r != "" && !IsSupportedAspectRatio(r) {
		return types.NewConfigError("image provider %q: unsupported default_aspect_ratio %q", p.cfg.Name, r).WithProvider(p.cfg.Name)
	}
	return nil
}

func (p *httpProvider) resolve(req *GenerateRequest) (model, aspectRatio string) {
	model, aspectRatio = req.Model, req.AspectRatio
	if model == "" {
		model = p.cfg.Model
	}
	if aspectRatio == "" {
		aspectRatio = p.cfg.DefaultAspectRatio
	}
	return model, aspectRatio
}

// referenceURIs 压缩参考图并编码为 data URI. 输入切片不会被修改.
func (p *httpProvider) referenceURIs(refs [][]byte) []string {
	if len(refs) == 0 {
		return nil
	}
	uris := make([]string, 0, len(refs))
	for i, ref := range refs {
		compressed := imaging.Compress(ref, p.cfg.ReferenceMaxKB)
		p.logger.Debug("参考图压缩",
			zap.Int("index", i),
			zap.Int("original_bytes", len(ref)),
			zap.Int("compressed_bytes", len(compressed)))
		// Compress 超出预算时会转成 JPEG, MIME 以实际字节为准
		mime := http.DetectContentType(compressed)
		uris = append(uris, "data:"+mime+";base64,"+base64.StdEncoding.EncodeToString(compressed))
	}
	return uris
}

// rawResponse 是一次 HTTP 交换的完整结果.
type rawResponse struct {
	status      int
	contentType string
	body        []byte
}

// post 发送 JSON 请求并读取完整响应. 传输层失败归类为 NETWORK_ERROR.
func (p *httpProvider) post(ctx context.Context, payload any) (*rawResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL(), bytes.NewReader(body))
	if err != nil {
		return nil, types.NewConfigError("invalid provider url %q", p.cfg.URL()).WithCause(err).WithProvider(p.cfg.Name)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewNetworkError(p.cfg.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, types.NewNetworkError(p.cfg.Name, fmt.Errorf("read response: %w", err))
	}
	if int64(len(data)) > maxResponseBytes {
		return nil, types.NewParseError(p.cfg.Name, snippet(string(data[:min(len(data), errorSnippetLen)]), errorSnippetLen),
			fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)).WithHTTPStatus(resp.StatusCode)
	}
	return &rawResponse{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        data,
	}, nil
}

func (p *httpProvider) startSpan(ctx context.Context, mode Mode, model string, refs int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "image.generate", trace.WithAttributes(
		attribute.String("image.provider", p.cfg.Name),
		attribute.String("image.mode", string(mode)),
		attribute.String("image.model", model),
		attribute.Int("image.references", refs),
	))
}

func endSpan(span trace.Span, err error, size int) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.code", string(types.GetErrorCode(err))))
		return
	}
	span.SetAttributes(attribute.Int("image.bytes", size))
}
