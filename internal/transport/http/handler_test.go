package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fleet-monitor/telematics/internal/domain"
	"fleet-monitor/telematics/internal/pipeline"
)

type mockIngester struct {
	mu       sync.Mutex
	ingestFn func(fix domain.PositionFix) error
	fixes    []domain.PositionFix
}

func (m *mockIngester) Ingest(fix domain.PositionFix) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ingestFn != nil {
		if err := m.ingestFn(fix); err != nil {
			return err
		}
	}
	m.fixes = append(m.fixes, fix)
	return nil
}

type mockAuth struct {
	keys map[string]string
}

func (m *mockAuth) Authenticate(_ context.Context, apiKey string) (string, bool) {
	deviceID, ok := m.keys[apiKey]
	return deviceID, ok
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

type mockMQTT struct {
	connected bool
}

func (m *mockMQTT) IsConnected() bool { return m.connected }

func setupRouter(engine ingester, health *HealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if health == nil {
		health = NewHealthChecker(&mockPinger{}, &mockPinger{}, nil)
	}
	auth := &mockAuth{keys: map[string]string{
		"fleet-key": "",
		"dev1-key":  "dev-1",
	}}
	return NewRouter(Routes{
		Auth:      NewAuthMiddleware(auth),
		Positions: NewPositionHandler(engine, zap.NewNop()),
		Health:    health,
	}, zap.NewNop())
}

func postPositions(r *gin.Engine, apiKey, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/v1/positions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	r.ServeHTTP(w, req)
	return w
}

const singleFix = `{"device_id":"dev-1","recorded_at":"2026-03-02T08:00:00Z","latitude":-6.2,"longitude":106.8,"satellites":7}`

func TestPostPositions_Single(t *testing.T) {
	engine := &mockIngester{}
	r := setupRouter(engine, nil)

	w := postPositions(r, "fleet-key", singleFix)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp ingestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Accepted)
	require.Len(t, engine.fixes, 1)
	assert.Equal(t, "dev-1", engine.fixes[0].DeviceID)
	assert.Equal(t, 7, engine.fixes[0].Satellites)
}

func TestPostPositions_BatchWithDeviceKey(t *testing.T) {
	engine := &mockIngester{}
	r := setupRouter(engine, nil)

	body := `[
		{"recorded_at":"2026-03-02T08:00:00Z","latitude":-6.2,"longitude":106.8},
		{"device_id":"dev-1","recorded_at":"2026-03-02T08:00:10Z","latitude":-6.2,"longitude":106.8}
	]`
	w := postPositions(r, "dev1-key", body)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, engine.fixes, 2)
	assert.Equal(t, "dev-1", engine.fixes[0].DeviceID, "device id filled from the key")
}

func TestPostPositions_DeviceKeyForOtherDevice(t *testing.T) {
	engine := &mockIngester{}
	r := setupRouter(engine, nil)

	body := strings.Replace(singleFix, "dev-1", "dev-2", 1)
	w := postPositions(r, "dev1-key", body)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, engine.fixes)
}

func TestPostPositions_Auth(t *testing.T) {
	r := setupRouter(&mockIngester{}, nil)

	assert.Equal(t, http.StatusUnauthorized, postPositions(r, "", singleFix).Code)
	assert.Equal(t, http.StatusUnauthorized, postPositions(r, "nope", singleFix).Code)
}

func TestPostPositions_BadPayload(t *testing.T) {
	r := setupRouter(&mockIngester{}, nil)

	w := postPositions(r, "fleet-key", `{"device_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostPositions_QueueFull(t *testing.T) {
	engine := &mockIngester{ingestFn: func(domain.PositionFix) error {
		return pipeline.ErrQueueFull
	}}
	r := setupRouter(engine, nil)

	w := postPositions(r, "fleet-key", singleFix)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	var resp ingestResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Dropped)
}

func TestPostPositions_EngineClosed(t *testing.T) {
	engine := &mockIngester{ingestFn: func(domain.PositionFix) error {
		return pipeline.ErrEngineClosed
	}}
	r := setupRouter(engine, nil)

	w := postPositions(r, "fleet-key", singleFix)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name     string
		health   *HealthChecker
		wantCode int
	}{
		{"all up", NewHealthChecker(&mockPinger{}, &mockPinger{}, &mockMQTT{connected: true}), http.StatusOK},
		{"postgres down", NewHealthChecker(&mockPinger{err: errors.New("refused")}, &mockPinger{}, nil), http.StatusServiceUnavailable},
		{"mqtt down", NewHealthChecker(&mockPinger{}, &mockPinger{}, &mockMQTT{}), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(&mockIngester{}, tt.health)
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body, "dependencies")
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupRouter(&mockIngester{}, nil)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "telematics_fixes_received_total")
}
