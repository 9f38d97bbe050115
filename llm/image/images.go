package image

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/types"
)

// ImagesProvider 通过 /v1/images/generations 风格端点生成图片.
type ImagesProvider struct {
	httpProvider
}

type imagesRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	ResponseFormat string   `json:"response_format"`
	AspectRatio    string   `json:"aspect_ratio"`
	ImageSize      string   `json:"image_size"`
	Image          []string `json:"image,omitempty"`
}

// StylePrompt 在有参考图时改写提示词，要求模型模仿参考图风格.
func StylePrompt(refCount int, prompt string) string {
	return fmt.Sprintf(`参考提供的 %d 张图片的风格（色彩、光影、构图、氛围），生成一张新图片。

新图片内容：%s

要求：
1. 保持相似的色调和氛围
2. 使用相似的光影处理
3. 保持一致的画面质感
4. 如果参考图中有人物或产品，可以适当融入`, refCount, prompt)
}

// Generate 实现 Provider.
func (p *ImagesProvider) Generate(ctx context.Context, req *GenerateRequest) (data []byte, err error) {
	model, aspectRatio := p.resolve(req)
	ctx, span := p.startSpan(ctx, ModeImages, model, len(req.References))
	defer func() { endSpan(span, err, len(data)) }()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	payload := imagesRequest{
		Model:          model,
		Prompt:         req.Prompt,
		ResponseFormat: "b64_json",
		AspectRatio:    aspectRatio,
		ImageSize:      p.cfg.ImageSize,
	}
	if len(req.References) > 0 {
		payload.Image = p.referenceURIs(req.References)
		payload.Prompt = StylePrompt(len(req.References), req.Prompt)
	}

	p.logger.Info("Image API 生成图片",
		zap.String("model", model),
		zap.String("aspect_ratio", aspectRatio),
		zap.Int("references", len(req.References)))

	resp, err := p.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	if !isSuccess(resp.status) {
		p.logger.Error("Image API 请求失败", zap.Int("status", resp.status))
		return nil, classifyStatus(p.cfg.Name, resp.status, resp.body)
	}
	if !gjson.ValidBytes(resp.body) {
		return nil, types.NewParseError(p.cfg.Name, snippet(string(resp.body), errorSnippetLen), errInvalidJSON)
	}

	b64 := gjson.GetBytes(resp.body, "data.0.b64_json")
	if !b64.Exists() || b64.String() == "" {
		return nil, types.NewExtractionError(p.cfg.Name, "no b64_json image data in response",
			snippet(string(resp.body), errorSnippetLen))
	}
	data, ok := decodeImagePayload(b64.String())
	if !ok {
		return nil, types.NewExtractionError(p.cfg.Name, "b64_json image data is not valid base64",
			snippet(b64.String(), 100))
	}

	p.logger.Info("Image API 图片生成成功", zap.Int("bytes", len(data)))
	return data, nil
}
