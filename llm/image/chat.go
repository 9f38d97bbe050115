package image

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/types"
)

// ChatProvider 通过 chat completion 端点生成图片，从回复文本中提取图像.
type ChatProvider struct {
	httpProvider
	downloader Downloader
	extractors []Extractor
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func (p *ChatProvider) buildRequest(model string, req *GenerateRequest) chatRequest {
	var content any = req.Prompt
	if len(req.References) > 0 {
		parts := []contentPart{{Type: "text", Text: req.Prompt}}
		for _, uri := range p.referenceURIs(req.References) {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: uri}})
		}
		content = parts
	}
	return chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: content}},
		MaxTokens:   4096,
		Temperature: 1.0,
	}
}

// Generate 实现 Provider.
func (p *ChatProvider) Generate(ctx context.Context, req *GenerateRequest) (data []byte, err error) {
	model, _ := p.resolve(req)
	ctx, span := p.startSpan(ctx, ModeChat, model, len(req.References))
	defer func() { endSpan(span, err, len(data)) }()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	p.logger.Info("Chat API 生成图片",
		zap.String("url", p.cfg.URL()),
		zap.String("model", model),
		zap.Int("references", len(req.References)))

	resp, err := p.post(ctx, p.buildRequest(model, req))
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.status) {
		p.logger.Error("Chat API 请求失败", zap.Int("status", resp.status))
		return nil, classifyStatus(p.cfg.Name, resp.status, resp.body)
	}

	text, err := AccumulateText(resp.contentType, resp.body)
	if err != nil {
		return nil, types.NewParseError(p.cfg.Name, snippet(string(resp.body), errorSnippetLen), err)
	}
	p.logger.Debug("响应完成", zap.Int("content_length", len(text)))

	ref, ok := Extract(text, p.cfg.Selection, p.extractors)
	if !ok {
		detail := snippet(text, extractionSnippetLen)
		if detail == "" {
			detail = "(empty response)"
		}
		return nil, types.NewExtractionError(p.cfg.Name, "no image found in provider response", detail)
	}
	p.logger.Info("提取到图片", zap.String("source", ref.Source))

	if ref.Data != nil {
		return ref.Data, nil
	}
	data, err = p.downloader.Download(ctx, ref.URL)
	if err != nil {
		return nil, types.NewDownloadError(p.cfg.Name, snippet(ref.URL, 200), err)
	}
	return data, nil
}
