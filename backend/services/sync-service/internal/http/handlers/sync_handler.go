package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"wattmint/backend/services/sync-service/internal/http/middleware"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/service"
)

// Syncer runs sync invocations; implemented by service.Orchestrator.
type Syncer interface {
	Sync(ctx context.Context, req service.Request) (*models.SyncResult, error)
	LastResult(ctx context.Context, callerID, targetUserID string) (*models.SyncResult, error)
}

// SyncHandler serves the sync endpoints.
type SyncHandler struct {
	syncer Syncer
	logger *zap.Logger
}

// NewSyncHandler builds handler.
func NewSyncHandler(syncer Syncer, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{syncer: syncer, logger: logger}
}

// Sync handles POST /api/sync.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	result, err := h.syncer.Sync(r.Context(), service.Request{
		CallerID:     callerID,
		TargetUserID: strings.TrimSpace(r.Header.Get(ImpersonateHeader)),
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("sync failed", zap.String("user_id", callerID), zap.Error(err))
		}
		writeError(w, status, publicMessage(status, err))
		return
	}

	writeJSON(w, resultStatus(result), result)
}

// LastResult handles GET /api/sync/last.
func (h *SyncHandler) LastResult(w http.ResponseWriter, r *http.Request) {
	callerID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	result, err := h.syncer.LastResult(r.Context(), callerID, strings.TrimSpace(r.Header.Get(ImpersonateHeader)))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("load last result failed", zap.String("user_id", callerID), zap.Error(err))
		}
		writeError(w, status, publicMessage(status, err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// resultStatus is 401 when every provider needs reauthentication, 200 otherwise.
func resultStatus(result *models.SyncResult) int {
	if result.AllProvidersNeedReauth() {
		return http.StatusUnauthorized
	}
	return http.StatusOK
}
