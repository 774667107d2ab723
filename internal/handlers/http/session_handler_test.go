package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"midimesh/internal/core/services"
	"midimesh/internal/infrastructure/middleware"
	"midimesh/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*gin.Engine, *SessionHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	peerRepo := memory.NewPeerRepository()
	sessionRepo := memory.NewSessionRepository()
	svc := services.NewSessionService(sessionRepo, peerRepo, zap.NewNop().Sugar())

	handler := NewSessionHandler(svc, peerRepo)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	handler.SetupRoutes(router, false)
	return router, handler
}

func TestCreateAndGetSession(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "quartet", "max_peers": 4})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Session struct {
			ID       string
			Name     string
			MaxPeers int
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "quartet", created.Session.Name)
	assert.Equal(t, 4, created.Session.MaxPeers)
	require.NotEmpty(t, created.Session.ID)

	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.Session.ID, nil)
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestGetSessionNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/sessions/no-such-session", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSessionRejectsMissingName(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader([]byte(`{}`)))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPeerNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/peers/ghost", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRosterEmptySession(t *testing.T) {
	router, _ := newTestRouter(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "empty", "max_peers": 2})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Session struct {
			ID string
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.Session.ID+"/peers", nil)
	router.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)

	var roster struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &roster))
	assert.Equal(t, 0, roster.Count)
}
