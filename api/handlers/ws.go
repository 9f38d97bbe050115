package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/api"
	"github.com/BaSui01/inkflow/types"
)

// wsReadLimit 首帧可能携带 base64 参考图.
const wsReadLimit = 32 << 20

// WSOptions WebSocket 端点选项
type WSOptions struct {
	// 允许的跨域 Origin 模式, 为空时只接受同源
	OriginPatterns []string
}

// HandleGenerateWS GET /api/generate/ws.
// 客户端首帧发送 GenerateRequest JSON, 之后每个进度事件对应一帧 {"event", "data"},
// complete 事件后服务端正常关闭连接.
func (h *GenerationHandler) HandleGenerateWS(opts WSOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			h.logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()

		userID := userIDOf(r)
		ctx := r.Context()

		conn.SetReadLimit(wsReadLimit)
		var req api.GenerateRequest
		_, data, err := conn.Read(ctx)
		if err == nil {
			err = json.Unmarshal(data, &req)
		}
		if err != nil {
			h.logger.Debug("failed to read generate request", zap.Error(err))
			h.writeWSError(ctx, conn, types.NewError(types.ErrInvalidRequest, "first frame must be a generate request").WithCause(err))
			conn.Close(websocket.StatusUnsupportedData, "invalid request")
			return
		}

		events, err := h.startGenerate(ctx, userID, req)
		if err != nil {
			h.writeWSError(ctx, conn, err)
			conn.Close(websocket.StatusPolicyViolation, "generation rejected")
			return
		}

		// 之后不再读取客户端数据; 对端关闭时 ctx 被取消
		ctx = conn.CloseRead(ctx)
		for {
			select {
			case <-ctx.Done():
				h.logger.Debug("websocket client gone", zap.String("task_id", req.TaskID))
				return
			case ev, open := <-events:
				if !open {
					conn.Close(websocket.StatusNormalClosure, "complete")
					return
				}
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					h.logger.Warn("websocket write failed", zap.String("task_id", req.TaskID), zap.Error(err))
					return
				}
			}
		}
	}
}

func (h *GenerationHandler) writeWSError(ctx context.Context, conn *websocket.Conn, err error) {
	apiErr, ok := types.AsError(err)
	if !ok {
		apiErr = types.NewError(types.ErrInternalError, "internal server error").WithCause(err)
	}
	frame := map[string]any{
		"event": "error",
		"data": ErrorInfo{
			Code:      string(apiErr.Code),
			Message:   apiErr.UserMessage(),
			Retryable: apiErr.Retryable,
			Provider:  apiErr.Provider,
		},
	}
	if werr := wsjson.Write(ctx, conn, frame); werr != nil {
		h.logger.Debug("failed to write websocket error frame", zap.Error(werr))
	}
}
