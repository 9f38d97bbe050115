package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/api"
	"github.com/BaSui01/inkflow/generation"
	"github.com/BaSui01/inkflow/types"
)

// AnonymousUser 未启用鉴权时使用的用户.
const AnonymousUser = "default"

// Generator 是 GenerationHandler 依赖的编排器能力.
type Generator interface {
	Generate(ctx context.Context, req generation.GenerateRequest) (<-chan types.Event, error)
	RetryFailed(ctx context.Context, req generation.RetryFailedRequest) (<-chan types.Event, error)
	RetrySingle(ctx context.Context, req generation.PageRequest) (*generation.Outcome, error)
	Regenerate(ctx context.Context, req generation.PageRequest) (*generation.Outcome, error)
	GetTaskState(ctx context.Context, taskID string) (*generation.TaskState, bool, error)
}

// ImageReader 读取已保存的图片.
type ImageReader interface {
	GetImage(ctx context.Context, userID, taskID, filename string, thumbnail bool) ([]byte, error)
}

// KeywordSource 提供任务对应历史记录的文件名关键词, 无记录时返回空串.
type KeywordSource interface {
	Keyword(ctx context.Context, userID, taskID string) (string, error)
}

// GenerationHandler 生成相关端点
type GenerationHandler struct {
	generator Generator
	images    ImageReader
	keywords  KeywordSource
	logger    *zap.Logger
}

// NewGenerationHandler keywords 可以为 nil.
func NewGenerationHandler(generator Generator, images ImageReader, keywords KeywordSource, logger *zap.Logger) *GenerationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationHandler{
		generator: generator,
		images:    images,
		keywords:  keywords,
		logger:    logger.With(zap.String("component", "generation_handler")),
	}
}

func userIDOf(r *http.Request) string {
	if id, ok := types.UserID(r.Context()); ok && id != "" {
		return id
	}
	return AnonymousUser
}

// HandleGenerate POST /api/generate, 以 SSE 推送进度事件.
func (h *GenerationHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.GenerateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	events, err := h.startGenerate(r.Context(), userIDOf(r), req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.streamSSE(w, r, events)
}

// HandleRetryFailed POST /api/retry-failed, 事件协议与 /generate 相同.
func (h *GenerationHandler) HandleRetryFailed(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.RetryFailedRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TaskID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "task_id is required", h.logger)
		return
	}

	events, err := h.generator.RetryFailed(r.Context(), generation.RetryFailedRequest{
		TaskID: req.TaskID,
		UserID: userIDOf(r),
		Pages:  req.Pages,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.streamSSE(w, r, events)
}

// HandleRetry POST /api/retry, 同步重试单页.
func (h *GenerationHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	h.handleSingle(w, r, h.generator.RetrySingle)
}

// HandleRegenerate POST /api/regenerate, 失败时保留原图.
func (h *GenerationHandler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	h.handleSingle(w, r, h.generator.Regenerate)
}

func (h *GenerationHandler) handleSingle(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, generation.PageRequest) (*generation.Outcome, error)) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.PageRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.TaskID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "task_id is required", h.logger)
		return
	}

	out, err := fn(r.Context(), generation.PageRequest{
		TaskID:       req.TaskID,
		UserID:       userIDOf(r),
		Page:         req.Page,
		UseReference: req.WantsReference(),
		FullOutline:  req.FullOutline,
		UserTopic:    req.UserTopic,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, pageResult(out))
}

func pageResult(o *generation.Outcome) api.PageResult {
	res := api.PageResult{
		Success:  o.Success,
		Index:    o.Index,
		ImageURL: o.ImageURL,
		Filename: o.Filename,
		Provider: o.Provider,
	}
	if !o.Success && o.Err != nil {
		if e, ok := types.AsError(o.Err); ok {
			res.Error = e.UserMessage()
		} else {
			res.Error = o.Err.Error()
		}
		res.Code = types.GetErrorCode(o.Err)
		res.Retryable = types.IsRetryable(o.Err)
	}
	return res
}

// HandleTaskState GET /api/task/{taskID}
func (h *GenerationHandler) HandleTaskState(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	state, ok, err := h.generator.GetTaskState(r.Context(), taskID)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if !ok {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound,
			fmt.Sprintf("task %s not found; it may have expired, start a new generation", taskID), h.logger)
		return
	}
	WriteSuccess(w, r, api.TaskStateResponse{
		TaskID:    state.TaskID,
		Generated: state.Generated,
		Failed:    state.Failed,
		HasCover:  state.HasCover(),
	})
}

// HandleImage GET /api/images/{taskID}/{filename}?thumbnail=true
func (h *GenerationHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	filename := chi.URLParam(r, "filename")

	thumbnail := true
	if v := r.URL.Query().Get("thumbnail"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "thumbnail must be true or false", h.logger)
			return
		}
		thumbnail = b
	}

	data, err := h.images.GetImage(r.Context(), userIDOf(r), taskID, filename, thumbnail)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *GenerationHandler) startGenerate(ctx context.Context, userID string, req api.GenerateRequest) (<-chan types.Event, error) {
	userImages, err := api.DecodeUserImages(req.UserImages)
	if err != nil {
		return nil, err
	}

	var keyword string
	if h.keywords != nil && req.TaskID != "" {
		keyword, err = h.keywords.Keyword(ctx, userID, req.TaskID)
		if err != nil {
			// 关键词只影响文件名
			h.logger.Warn("failed to read history keyword", zap.String("task_id", req.TaskID), zap.Error(err))
			keyword = ""
		}
	}

	return h.generator.Generate(ctx, generation.GenerateRequest{
		TaskID:      req.TaskID,
		UserID:      userID,
		Pages:       req.Pages,
		FullOutline: req.FullOutline,
		UserTopic:   req.UserTopic,
		Keyword:     keyword,
		UserImages:  userImages,
	})
}

// streamSSE 逐条写出事件直到通道关闭. 客户端断开后停止写出, 生成本身继续.
func (h *GenerationHandler) streamSSE(w http.ResponseWriter, r *http.Request, events <-chan types.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, r, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("client disconnected from event stream", zap.Error(r.Context().Err()))
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := WriteSSE(w, ev); err != nil {
				h.logger.Warn("failed to write event", zap.String("event", string(ev.Type)), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// WriteSSE 按 "event: X\ndata: json\n\n" 写出一个事件.
func WriteSSE(w io.Writer, ev types.Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}
