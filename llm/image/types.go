// 包 image 提供统一的图像生成提供者接口.
package image

import "context"

// GenerateRequest 描述一次单页图像生成请求.
// AspectRatio 与 Model 为空时回退到提供者配置的默认值.
type GenerateRequest struct {
	Prompt      string
	AspectRatio string
	Model       string
	References  [][]byte
}

// Provider 定义了图像生成提供者接口.
type Provider interface {
	// Name 返回提供者名称 。
	Name() string

	// Validate 在缺少凭据或 base URL 时返回 CONFIG_ERROR.
	Validate() error

	// Generate 执行一次 HTTP 交换并返回原始图像字节.
	Generate(ctx context.Context, req *GenerateRequest) ([]byte, error)
}

// Mode 是提供者的请求模式.
type Mode string

const (
	ModeImages Mode = "images"
	ModeChat   Mode = "chat"
)

// SupportedAspectRatios 返回支持的宽高比.
func SupportedAspectRatios() []string {
	return []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}
}

// IsSupportedAspectRatio 判断宽高比是否受支持.
func IsSupportedAspectRatio(ratio string) bool {
	for _, r := range SupportedAspectRatios() {
		if r == ratio {
			return true
		}
	}
	return false
}
