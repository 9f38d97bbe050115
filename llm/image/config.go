package image

import (
	"strings"
	"time"
)

const (
	imagesEndpoint = "/v1/images/generations"
	chatEndpoint   = "/v1/chat/completions"
)

// Selection 决定文本中出现多张图片时取哪一张.
type Selection string

const (
	SelectFirst Selection = "first"
	SelectLast  Selection = "last"
)

// Config 配置了一个 OpenAI 兼容的图像提供者.
type Config struct {
	Name               string        `json:"name" yaml:"name"`
	Type               string        `json:"type" yaml:"type"`
	APIKey             string        `json:"api_key" yaml:"api_key"`
	BaseURL            string        `json:"base_url" yaml:"base_url"`
	Model              string        `json:"model,omitempty" yaml:"model,omitempty"`
	EndpointType       string        `json:"endpoint_type,omitempty" yaml:"endpoint_type,omitempty"`
	DefaultAspectRatio string        `json:"default_aspect_ratio,omitempty" yaml:"default_aspect_ratio,omitempty"`
	ImageSize          string        `json:"image_size,omitempty" yaml:"image_size,omitempty"`
	Quality            string        `json:"quality,omitempty" yaml:"quality,omitempty"`
	Timeout            time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	DownloadTimeout    time.Duration `json:"download_timeout,omitempty" yaml:"download_timeout,omitempty"`
	ReferenceMaxKB     int           `json:"reference_max_kb,omitempty" yaml:"reference_max_kb,omitempty"`
	Selection          Selection     `json:"selection,omitempty" yaml:"selection,omitempty"`
}

// DefaultConfig 返回默认图像提供者配置 。
func DefaultConfig() Config {
	return Config{
		Type:               "image_api",
		Model:              "default-model",
		EndpointType:       imagesEndpoint,
		DefaultAspectRatio: "3:4",
		ImageSize:          "4K",
		Timeout:            300 * time.Second,
		DownloadTimeout:    60 * time.Second,
		ReferenceMaxKB:     200,
		Selection:          SelectFirst,
	}
}

// WithDefaults 用默认值补齐未设置的字段并规范化 URL.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.DefaultAspectRatio == "" {
		c.DefaultAspectRatio = d.DefaultAspectRatio
	}
	if c.ImageSize == "" {
		c.ImageSize = d.ImageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = d.DownloadTimeout
	}
	if c.ReferenceMaxKB <= 0 {
		c.ReferenceMaxKB = d.ReferenceMaxKB
	}
	if c.Selection != SelectLast {
		c.Selection = SelectFirst
	}
	c.BaseURL = NormalizeBaseURL(c.BaseURL)
	c.EndpointType = NormalizeEndpoint(c.EndpointType)
	return c
}

// Mode 根据端点路径选择请求模式.
func (c Config) Mode() Mode {
	ep := NormalizeEndpoint(c.EndpointType)
	if strings.Contains(ep, "chat") || strings.Contains(ep, "completions") {
		return ModeChat
	}
	return ModeImages
}

// URL 返回完整的请求地址.
func (c Config) URL() string {
	return NormalizeBaseURL(c.BaseURL) + NormalizeEndpoint(c.EndpointType)
}

// NormalizeBaseURL 去掉末尾的 "/" 与 "/v1".
func NormalizeBaseURL(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	s = strings.TrimSuffix(s, "/v1")
	return strings.TrimRight(s, "/")
}

// NormalizeEndpoint 展开简写并确保以 "/" 开头.
func NormalizeEndpoint(s string) string {
	switch s = strings.TrimSpace(s); s {
	case "", "images":
		return imagesEndpoint
	case "chat":
		return chatEndpoint
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return s
}
