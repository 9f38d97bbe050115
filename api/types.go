package api

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/BaSui01/inkflow/types"
)

// GenerateRequest 发起整套生成.
// @Description 页面生成请求
type GenerateRequest struct {
	// 任务 ID, 同一任务的重试与重新生成使用同一个 ID
	TaskID string `json:"task_id" example:"task-8f2c"`
	// 待生成页面, index 0 或 type=cover 为封面
	Pages []types.Page `json:"pages"`
	// 完整大纲, 作为每页提示词的上下文
	FullOutline string `json:"full_outline,omitempty"`
	// 用户原始主题
	UserTopic string `json:"user_topic,omitempty"`
	// 用户上传的参考图, base64, 可带 data: 前缀
	UserImages []string `json:"user_images,omitempty"`
}

// RetryFailedRequest 重试当前失败的页.
type RetryFailedRequest struct {
	TaskID string       `json:"task_id"`
	Pages  []types.Page `json:"pages"`
}

// PageRequest 重试或重新生成单页.
// @Description 单页请求
type PageRequest struct {
	TaskID string     `json:"task_id"`
	Page   types.Page `json:"page"`
	// 是否以封面为参考图, 默认 true
	UseReference *bool  `json:"use_reference,omitempty"`
	FullOutline  string `json:"full_outline,omitempty"`
	UserTopic    string `json:"user_topic,omitempty"`
}

// WantsReference use_reference 缺省视为 true.
func (r PageRequest) WantsReference() bool {
	return r.UseReference == nil || *r.UseReference
}

// PageResult 单页结果.
type PageResult struct {
	Success   bool            `json:"success"`
	Index     int             `json:"index"`
	ImageURL  string          `json:"image_url,omitempty"`
	Filename  string          `json:"filename,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      types.ErrorCode `json:"code,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// TaskStateResponse 任务进度.
type TaskStateResponse struct {
	TaskID    string         `json:"task_id"`
	Generated map[int]string `json:"generated"`
	Failed    map[int]string `json:"failed"`
	HasCover  bool           `json:"has_cover"`
}

// CreateHistoryRequest 新建历史记录.
type CreateHistoryRequest struct {
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Outline   string `json:"outline,omitempty"`
	PageCount int    `json:"page_count,omitempty"`
}

// HistoryResponse 历史记录.
type HistoryResponse struct {
	ID        uint     `json:"id"`
	TaskID    string   `json:"task_id,omitempty"`
	Title     string   `json:"title"`
	Status    string   `json:"status"`
	Keyword   string   `json:"keyword"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Images    []string `json:"images"`
	PageCount int      `json:"page_count"`
	ExpiresAt string   `json:"expires_at,omitempty"`
}

// DecodeUserImages 解码 base64 参考图, 去掉 "data:image/png;base64," 之类的前缀.
func DecodeUserImages(encoded []string) ([][]byte, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(encoded))
	for i, s := range encoded {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "data:") {
			if _, rest, ok := strings.Cut(s, ","); ok {
				s = rest
			}
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("user_images[%d] is not valid base64", i)).
				WithHTTPStatus(400).
				WithCause(err)
		}
		if len(data) > 0 {
			out = append(out, data)
		}
	}
	return out, nil
}
