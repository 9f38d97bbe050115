package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/api"
	"github.com/BaSui01/inkflow/storage"
	"github.com/BaSui01/inkflow/types"
)

// HistoryStore 历史记录存储
type HistoryStore interface {
	CreateRecord(ctx context.Context, req storage.CreateRecordRequest) (*storage.History, error)
	RecordByTaskID(ctx context.Context, userID, taskID string) (*storage.History, error)
	SyncTaskImages(ctx context.Context, userID, taskID string) (*storage.History, error)
}

// HistoryHandler 历史记录端点
type HistoryHandler struct {
	store  HistoryStore
	logger *zap.Logger
}

func NewHistoryHandler(store HistoryStore, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{store: store, logger: logger.With(zap.String("component", "history_handler"))}
}

// HandleCreate POST /api/history
func (h *HistoryHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.CreateHistoryRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.PageCount < 0 {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "page_count must be >= 0", h.logger)
		return
	}

	rec, err := h.store.CreateRecord(r.Context(), storage.CreateRecordRequest{
		UserID:    userIDOf(r),
		TaskID:    req.TaskID,
		Title:     req.Title,
		Outline:   req.Outline,
		PageCount: req.PageCount,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusCreated, Response{
		Success:   true,
		Data:      historyResponse(rec),
		Timestamp: time.Now(),
		RequestID: requestID(r),
	})
}

// HandleGet GET /api/history/{taskID}
func (h *HistoryHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.RecordByTaskID(r.Context(), userIDOf(r), chi.URLParam(r, "taskID"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, historyResponse(rec))
}

// HandleSync POST /api/history/{taskID}/sync, 按已保存的图片刷新记录.
func (h *HistoryHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.SyncTaskImages(r.Context(), userIDOf(r), chi.URLParam(r, "taskID"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, historyResponse(rec))
}

func historyResponse(rec *storage.History) api.HistoryResponse {
	resp := api.HistoryResponse{
		ID:        rec.ID,
		TaskID:    rec.TaskID,
		Title:     rec.Title,
		Status:    rec.Status,
		Keyword:   rec.Keyword,
		Thumbnail: rec.Thumbnail,
		Images:    rec.Images(),
		PageCount: rec.PageCount,
	}
	if resp.Images == nil {
		resp.Images = []string{}
	}
	if rec.ExpiresAt != nil {
		resp.ExpiresAt = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}
