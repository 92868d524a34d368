package handler

import (
	"net/http"

	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/logger"
	"roomrelay/backend/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler serves the relay's HTTP surface.
type Handler struct {
	Hub        *chathub.Hub
	Presence   *presence.Manager
	Dispatcher *chathub.Dispatcher

	jwtSecret []byte
	upgrader  websocket.Upgrader
}

// NewHandler wires the handlers. allowedOrigins restricts websocket handshakes, see checkOrigin.
func NewHandler(hub *chathub.Hub, pres *presence.Manager, dispatcher *chathub.Dispatcher, jwtSecret string, allowedOrigins []string) *Handler {
	return &Handler{
		Hub:        hub,
		Presence:   pres,
		Dispatcher: dispatcher,
		jwtSecret:  []byte(jwtSecret),
		upgrader:   newUpgrader(allowedOrigins),
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinLogger())

	r.GET("/anonid", h.GetAnonID)
	r.GET("/ws", h.ServeWebSocket)
	r.GET("/healthz", h.Health)
	r.GET("/stats", h.Stats)
	return r
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Stats reports what this process currently serves.
func (h *Handler) Stats(c *gin.Context) {
	rooms, clients := h.Hub.Stats()
	c.JSON(http.StatusOK, gin.H{"rooms": rooms, "clients": clients})
}
