package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crmdesk-backend/internal/auth"
	"crmdesk-backend/internal/transport"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Handler struct {
	hub            *Hub
	manager        *auth.Manager
	log            *slog.Logger
	allowedOrigins map[string]struct{}
}

func NewHandler(hub *Hub, manager *auth.Manager, allowedOrigins []string, log *slog.Logger) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &Handler{
		hub:            hub,
		manager:        manager,
		log:            log,
		allowedOrigins: allowed,
	}
}

// ServeWS authenticates the handshake with the same token scheme as the REST
// API and upgrades the connection. The token comes from the query string
// because the browser WebSocket API cannot set headers; the Authorization
// header is accepted as a fallback for non-browser clients.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		transport.WriteError(w, http.StatusServiceUnavailable, "auth not configured", nil)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	if token == "" {
		transport.WriteError(w, http.StatusUnauthorized, "missing token", nil)
		return
	}

	claims, err := h.manager.Parse(token)
	if err != nil || claims.UserID() == "" {
		transport.WriteError(w, http.StatusUnauthorized, "invalid token", nil)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := h.allowedOrigins[origin]
			return ok
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("realtime upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		userID: claims.UserID(),
		role:   claims.Role,
		conn:   conn,
		hub:    h.hub,
		send:   make(chan []byte, 256),
		rooms:  make(map[string]bool),
	}

	h.hub.register <- client

	go client.writePump()
	go client.readPump()

	// Ready ack after registration: the client may rely on its rooms being
	// joined once this frame arrives.
	ready := Message{
		Event: "ready",
		Payload: map[string]string{
			"userId": client.userID,
			"room":   UserRoom(client.userID),
		},
		Timestamp: time.Now(),
	}
	if data, err := json.Marshal(ready); err == nil {
		select {
		case client.send <- data:
		default:
		}
	}
}
