package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/internal/tlsutil"
	"github.com/BaSui01/inkflow/llm/retry"
)

const maxDownloadBytes = 64 << 20

// Downloader 获取提供者在文本中返回的图片 URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// statusError is a non-200 download response.
type statusError struct {
	status int
}

func (e *statusError) Error() string { return fmt.Sprintf("HTTP %d", e.status) }

// HTTPDownloader 使用独立超时下载图片，对 5xx 与网络错误做有限退避重试.
type HTTPDownloader struct {
	client  *http.Client
	timeout time.Duration
	retryer retry.Retryer
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewHTTPDownloader 创建下载器. timeout 作用于每一次尝试.
func NewHTTPDownloader(timeout time.Duration, policy *retry.Policy, logger *zap.Logger) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	p := *policy
	policy = &p
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = retryableDownload
	}
	return &HTTPDownloader{
		client:  tlsutil.SecureHTTPClient(timeout),
		timeout: timeout,
		retryer: retry.NewBackoffRetryer(policy, logger),
		logger:  logger.With(zap.String("component", "image_downloader")),
		tracer:  otel.Tracer(instrumentationName),
	}
}

// Download 实现 Downloader.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	ctx, span := d.tracer.Start(ctx, "image.download", trace.WithAttributes(
		attribute.String("url.host", urlHost(url)),
	))
	d.logger.Info("下载图片", zap.String("url", snippet(url, 100)))
	data, err := retry.DoWithResult(ctx, d.retryer, func(ctx context.Context) ([]byte, error) {
		return d.fetch(ctx, url)
	})
	endSpan(span, err, len(data))
	if err != nil {
		return nil, err
	}
	d.logger.Info("图片下载成功", zap.Int("bytes", len(data)))
	return data, nil
}

func (d *HTTPDownloader) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &statusError{status: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
}

// urlHost 只记录主机名, 签名 URL 的查询串可能带凭据.
func urlHost(raw string) string {
	u, err := neturl.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

func retryableDownload(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	return true
}
