package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/http/middleware"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/service"
)

type fakeSyncer struct {
	mu      sync.Mutex
	result  *models.SyncResult
	err     error
	devices []models.DeviceResult
	got     []service.Request
}

var _ Syncer = (*fakeSyncer)(nil)

func (f *fakeSyncer) Sync(ctx context.Context, req service.Request) (*models.SyncResult, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, d := range f.devices {
		if req.OnDevice != nil {
			req.OnDevice(d)
		}
	}
	return f.result, nil
}

func (f *fakeSyncer) LastResult(ctx context.Context, callerID, target string) (*models.SyncResult, error) {
	f.mu.Lock()
	f.got = append(f.got, service.Request{CallerID: callerID, TargetUserID: target})
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func okResult() *models.SyncResult {
	return &models.SyncResult{
		RunID:       "run-1",
		UserID:      "u-1",
		EnergySites: []models.DeviceResult{{DeviceID: "d-1", Status: models.StatusOK}},
		Vehicles:    []models.DeviceResult{},
		Providers:   map[string]models.ProviderResult{"solaredge": {Status: models.StatusOK}},
		Totals:      models.Totals{SolarWh: 7000, PendingSolarWh: 2000},
	}
}

func authed(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.WithUserID(r.Context(), userID))
}

func TestSyncHandler(t *testing.T) {
	reauth := &models.SyncResult{
		Providers:   map[string]models.ProviderResult{"tesla": {Status: models.StatusNeedsReauth, NeedsReauth: true, Code: 401}},
		NeedsReauth: true,
	}

	tests := []struct {
		name   string
		syncer *fakeSyncer
		status int
		check  func(t *testing.T, body map[string]interface{})
	}{
		{
			name:   "ok",
			syncer: &fakeSyncer{result: okResult()},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				totals := body["totals"].(map[string]interface{})
				assert.Equal(t, 2000.0, totals["pending_solar_wh"])
				assert.Len(t, body["energy_sites"], 1)
			},
		},
		{
			name:   "all providers need reauth",
			syncer: &fakeSyncer{result: reauth},
			status: http.StatusUnauthorized,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, true, body["needsReauth"])
			},
		},
		{
			name:   "impersonation denied",
			syncer: &fakeSyncer{err: errs.ErrPermissionDenied},
			status: http.StatusForbidden,
		},
		{
			name:   "unexpected failure hides detail",
			syncer: &fakeSyncer{err: errors.New("list devices: connection refused")},
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "internal error", body["error"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSyncHandler(tt.syncer, nil)
			req := authed(httptest.NewRequest(http.MethodPost, "/api/sync", nil), "u-1")
			rec := httptest.NewRecorder()
			h.Sync(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.check != nil {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				tt.check(t, body)
			}
		})
	}
}

func TestSyncHandlerPassesImpersonationTarget(t *testing.T) {
	s := &fakeSyncer{result: okResult()}
	req := authed(httptest.NewRequest(http.MethodPost, "/api/sync", nil), "admin-1")
	req.Header.Set(ImpersonateHeader, " u-2 ")
	rec := httptest.NewRecorder()
	NewSyncHandler(s, nil).Sync(rec, req)

	require.Len(t, s.got, 1)
	assert.Equal(t, "admin-1", s.got[0].CallerID)
	assert.Equal(t, "u-2", s.got[0].TargetUserID)
}

func TestSyncHandlerRequiresCaller(t *testing.T) {
	s := &fakeSyncer{result: okResult()}
	rec := httptest.NewRecorder()
	NewSyncHandler(s, nil).Sync(rec, httptest.NewRequest(http.MethodPost, "/api/sync", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, s.got)
}

func TestLastResultHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSyncHandler(&fakeSyncer{err: errs.ErrNotFound}, nil).
		LastResult(rec, authed(httptest.NewRequest(http.MethodGet, "/api/sync/last", nil), "u-1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	NewSyncHandler(&fakeSyncer{result: okResult()}, nil).
		LastResult(rec, authed(httptest.NewRequest(http.MethodGet, "/api/sync/last", nil), "u-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
	})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{
		"redis": func(context.Context) error { return errors.New("down") },
	})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"unavailable"`)
}

func dialStream(t *testing.T, s Syncer, query string) *websocket.Conn {
	t.Helper()
	h := NewStreamHandler(s, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, authed(r, "u-1"))
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sync/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamHandlerEmitsDevicesThenResult(t *testing.T) {
	s := &fakeSyncer{
		result: okResult(),
		devices: []models.DeviceResult{
			{DeviceID: "d-1", Status: models.StatusOK},
			{DeviceID: "v-1", Status: models.StatusDegraded},
		},
	}
	conn := dialStream(t, s, "?impersonate_user=u-9")

	var events []StreamEvent
	for {
		var ev StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected: %v", err)
			break
		}
		events = append(events, ev)
	}

	require.Len(t, events, 3)
	assert.Equal(t, EventDevice, events[0].Type)
	assert.Equal(t, "d-1", events[0].Device.DeviceID)
	assert.Equal(t, "v-1", events[1].Device.DeviceID)
	assert.Equal(t, EventResult, events[2].Type)
	assert.Equal(t, http.StatusOK, events[2].Status)
	assert.Equal(t, "run-1", events[2].Result.RunID)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "u-9", s.got[0].TargetUserID)
}

func TestStreamHandlerReportsError(t *testing.T) {
	conn := dialStream(t, &fakeSyncer{err: errs.ErrPermissionDenied}, "")

	var ev StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventError, ev.Type)
	assert.Equal(t, http.StatusForbidden, ev.Status)
	assert.Equal(t, errs.ErrPermissionDenied.Error(), ev.Error)
}
