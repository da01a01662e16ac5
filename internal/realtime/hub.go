package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"crmdesk-backend/internal/metrics"
)

// Server->client event names. Each payload carries an RFC3339 timestamp.
const (
	EventStagesReordered      = "stages:reordered"
	EventDealRejected         = "lead:deal_rejected"
	EventNotificationNew      = "notification:new"
	EventNotificationRead     = "notification:read"
	EventNotificationAllRead  = "notification:allRead"
	EventTaskCreated          = "task:created"
	EventActivityBadgeRefresh = "activityBadgeRefresh"
)

// UserRoom is the per-user room every connection auto-joins on handshake.
func UserRoom(userID string) string {
	return "user_" + userID
}

// RoleRoom groups connections by the role claim of their token.
func RoleRoom(role string) string {
	return "role_" + role
}

type Message struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type roomMessage struct {
	rooms   []string // empty means broadcast to everyone
	message []byte
}

// Hub maintains connected clients and their room memberships. It is
// constructed in main and injected into services; Run stops when the given
// context is cancelled.
type Hub struct {
	log *slog.Logger

	clients     map[*Client]bool
	userClients map[string]map[*Client]bool
	roomClients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	emit       chan roomMessage

	mu sync.RWMutex
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:         log,
		clients:     make(map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		roomClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		emit:        make(chan roomMessage, 256),
	}
}

func (h *Hub) Run(ctx context.Context) {
	h.log.Info("realtime hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("realtime hub stopped")
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case rm := <-h.emit:
			h.deliver(rm)
		}
	}
}

// EmitToRooms marshals one message and queues it for every client joined to
// any of the given rooms. An empty room list broadcasts to all clients.
// Delivery is fire-and-forget.
func (h *Hub) EmitToRooms(event string, rooms []string, payload interface{}) {
	msg := Message{
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("realtime emit: marshal failed", slog.String("event", event), slog.String("error", err.Error()))
		return
	}

	metrics.NotificationsFanout.Inc()
	select {
	case h.emit <- roomMessage{rooms: rooms, message: data}:
	default:
		h.log.Warn("realtime emit: queue full, dropping", slog.String("event", event))
	}
}

// EmitToUser targets a single user's room.
func (h *Hub) EmitToUser(userID, event string, payload interface{}) {
	h.EmitToRooms(event, []string{UserRoom(userID)}, payload)
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	if h.userClients[client.userID] == nil {
		h.userClients[client.userID] = make(map[*Client]bool)
	}
	h.userClients[client.userID][client] = true

	// Join rooms synchronously before the connection is considered ready, so
	// targeted emits after the handshake ack are deterministic.
	h.joinLocked(client, UserRoom(client.userID))
	h.joinLocked(client, RoleRoom(client.role))

	metrics.WebsocketConnections.Inc()
	h.log.Info("realtime client registered",
		slog.String("user_id", client.userID),
		slog.String("client_id", client.id),
		slog.Int("total", len(h.clients)),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)

	if clients, ok := h.userClients[client.userID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.userClients, client.userID)
		}
	}

	for room := range client.rooms {
		if clients, ok := h.roomClients[room]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.roomClients, room)
			}
		}
	}

	close(client.send)
	metrics.WebsocketConnections.Dec()
	h.log.Info("realtime client disconnected",
		slog.String("user_id", client.userID),
		slog.String("client_id", client.id),
		slog.Int("total", len(h.clients)),
	)
}

func (h *Hub) deliver(rm roomMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := make(map[*Client]bool)
	if len(rm.rooms) == 0 {
		for client := range h.clients {
			targets[client] = true
		}
	} else {
		for _, room := range rm.rooms {
			for client := range h.roomClients[room] {
				targets[client] = true
			}
		}
	}

	for client := range targets {
		select {
		case client.send <- rm.message:
		default:
			// Slow consumer; drop the connection rather than block the hub.
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

// JoinRoom adds a client to a room. Connections auto-join their user and role
// rooms on registration; callers are responsible for authorizing any explicit
// join before invoking this.
func (h *Hub) JoinRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(client, room)
}

func (h *Hub) joinLocked(client *Client, room string) {
	client.mu.Lock()
	client.rooms[room] = true
	client.mu.Unlock()

	if h.roomClients[room] == nil {
		h.roomClients[room] = make(map[*Client]bool)
	}
	h.roomClients[room][client] = true
}

func (h *Hub) LeaveRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.mu.Lock()
	delete(client.rooms, room)
	client.mu.Unlock()

	if clients, ok := h.roomClients[room]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.roomClients, room)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
	h.clients = make(map[*Client]bool)
	h.userClients = make(map[string]map[*Client]bool)
	h.roomClients = make(map[string]map[*Client]bool)
}

// IsUserOnline reports whether the user has at least one live connection.
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.userClients[userID]
	return ok
}

// RoomSize returns the number of clients joined to a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.roomClients[room])
}
