package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wattmint/backend/services/sync-service/internal/http/middleware"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/service"
)

const (
	writeWait = 10 * time.Second
	// ImpersonateQueryParam is the stream equivalent of ImpersonateHeader.
	ImpersonateQueryParam = "impersonate_user"
	streamBuffer          = 16
)

// Stream event types.
const (
	EventDevice = "device"
	EventResult = "result"
	EventError  = "error"
)

// StreamEvent is one JSON frame on the progress stream.
type StreamEvent struct {
	Type   string               `json:"type"`
	Device *models.DeviceResult `json:"device,omitempty"`
	Result *models.SyncResult   `json:"result,omitempty"`
	Status int                  `json:"status,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// StreamHandler runs a sync over a WebSocket, pushing each device result as it completes.
type StreamHandler struct {
	syncer   Syncer
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler builds handler.
func NewStreamHandler(syncer Syncer, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		syncer: syncer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// ServeHTTP handles GET /api/sync/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	target := strings.TrimSpace(r.Header.Get(ImpersonateHeader))
	if target == "" {
		target = strings.TrimSpace(r.URL.Query().Get(ImpersonateQueryParam))
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.watchClose(conn, cancel)

	events := make(chan StreamEvent, streamBuffer)
	go func() {
		defer close(events)
		result, err := h.syncer.Sync(ctx, service.Request{
			CallerID:     callerID,
			TargetUserID: target,
			OnDevice: func(d models.DeviceResult) {
				select {
				case events <- StreamEvent{Type: EventDevice, Device: &d}:
				case <-ctx.Done():
				}
			},
		})
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				h.logger.Error("stream sync failed", zap.String("user_id", callerID), zap.Error(err))
			}
			events <- StreamEvent{Type: EventError, Status: status, Error: publicMessage(status, err)}
			return
		}
		events <- StreamEvent{Type: EventResult, Status: resultStatus(result), Result: result}
	}()

	// Single writer; after a write failure the channel is drained so the sync goroutine can finish.
	failed := false
	for ev := range events {
		if failed {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("stream write failed", zap.Error(err))
			failed = true
			cancel()
		}
	}
	if failed {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(writeWait))
}

// watchClose cancels the run when the client goes away.
func (h *StreamHandler) watchClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
