package http

import (
	"net/http"

	"midimesh/internal/core/domain"
	"midimesh/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionHandler exposes the read-mostly status API: session listings, peer
// rosters and link statistics. Session membership itself is negotiated on
// the control plane, not over HTTP. Errors are attached to the context and
// mapped to status codes by the error-handler middleware.
type SessionHandler struct {
	sessions ports.SessionService
	peers    ports.PeerRepository
}

func NewSessionHandler(sessions ports.SessionService, peers ports.PeerRepository) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		peers:    peers,
	}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine, prometheusEnabled bool) {
	router.GET("/health", h.Health)
	if prometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api/v1")
	{
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/peers", h.GetRoster)
		api.GET("/peers/:id", h.GetPeer)
	}
}

func (h *SessionHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required,min=1,max=100"`
		MaxPeers int    `json:"max_peers" binding:"min=0,max=64"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), req.Name, req.MaxPeers)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": session})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.ListSessions(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	session, err := h.sessions.GetSession(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *SessionHandler) GetRoster(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	roster, err := h.sessions.Roster(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": roster, "count": len(roster)})
}

func (h *SessionHandler) GetPeer(c *gin.Context) {
	id := domain.PeerID(c.Param("id"))
	peer, err := h.peers.GetByID(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": peer})
}
