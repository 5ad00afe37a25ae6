package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mogakjak-gateway/internal/mocks"
	"mogakjak-gateway/internal/telemetry"
	"mogakjak-gateway/internal/ws"
)

func setupDebugRouter(emitter *telemetry.AuditEmitter, enabled bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, emitter, ws.NewHub(), enabled)
	return r
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", Health("noop"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","publisher":"noop"}`, rec.Body.String())
}

func TestDebugRoutesDisabled(t *testing.T) {
	r := setupDebugRouter(nil, false)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAuditTest(t *testing.T) {
	publisher := &mocks.PublisherMock{}
	publisher.On("Publish", mock.Anything, "audit.auth", mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.RequestID == "req-7" && e.Payload.Action == telemetry.ActionAuditTest
	})).Return(nil).Once()
	r := setupDebugRouter(telemetry.NewAuditEmitter(publisher, "audit.auth", "svc", "test"), true)

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-ID", "req-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}

func TestDebugAuditTestWithoutEmitter(t *testing.T) {
	r := setupDebugRouter(nil, true)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDebugNotice(t *testing.T) {
	r := setupDebugRouter(nil, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/groups/g1/notice", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/groups/g1/notice", strings.NewReader(`{"message":"maintenance"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"delivered":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/ws/stats?group_id=g1", nil))
	assert.JSONEq(t, `{"group_clients":0,"user_clients":0}`, rec.Body.String())
}
