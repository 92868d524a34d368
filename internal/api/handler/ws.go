package handler

import (
	"context"
	"net/http"
	"strings"

	"roomrelay/backend/internal/apperr"
	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(allowedOrigins),
	}
}

// checkOrigin matches the Origin header against the allow-list. An empty list keeps
// gorilla's same-origin check; "*" allows any origin. Clients that send no Origin
// header (non-browser) are always accepted.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		if !ok {
			log.Warn().Str("origin", origin).Msg("ws: origin not allowed")
		}
		return ok
	}
}

// bearerToken takes the token from the Authorization header, or from the token query
// parameter for browsers that cannot set headers on a websocket handshake.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return c.Query("token")
}

// ServeWebSocket upgrades to a websocket and joins the connection to ?room=.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	roomID := strings.TrimSpace(c.Query("room"))
	if roomID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room is required"})
		return
	}

	tokenString := bearerToken(c)
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return
	}

	anonID, err := h.validateAndGetAnonID(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already replied
		log.Warn().Err(err).Msg("ws: upgrade failed")
		return
	}

	// the request context ends with this handler; the link outlives it
	ctx := context.WithoutCancel(c.Request.Context())
	session := chathub.NewSession(uuid.NewString(), anonID, roomID, h.Presence, h.Dispatcher)
	client := chathub.NewWebSocketClient(conn, session, h.Hub)

	// attach before joining so that the first broadcast after the join can be delivered
	if err := h.Hub.Attach(ctx, client); err != nil {
		log.Error().Err(err).Str("connectionID", session.ConnectionID).Msg("ws: attach failed")
		rejectConn(conn, err)
		return
	}

	if err := session.Join(ctx); err != nil {
		h.Hub.Detach(session.ConnectionID)
		rejectConn(conn, err)
		return
	}

	log.Info().Str("connectionID", session.ConnectionID).Str("userID", anonID).Str("roomID", roomID).Msg("ws: connection joined")
	client.Run()
}

// rejectConn sends a final error frame and closes a connection that never went live.
func rejectConn(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(models.Delivery{Kind: models.KindError, Error: apperr.Code(err)})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, apperr.Code(err)))
	conn.Close()
}
