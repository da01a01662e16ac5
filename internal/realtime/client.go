package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = int64(4096)
)

type Client struct {
	id     string
	userID string
	role   string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	rooms  map[string]bool
	mu     sync.Mutex
}

// clientMessage is the client->server frame. `join:user` is accepted as a
// redundant backup for the automatic handshake join.
type clientMessage struct {
	Action string `json:"action"`
	Room   string `json:"room,omitempty"`
	UserID string `json:"userId,omitempty"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("realtime read error",
					slog.String("user_id", c.userID),
					slog.String("error", err.Error()),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.log.Warn("realtime bad frame", slog.String("user_id", c.userID))
		return
	}

	switch msg.Action {
	case "join:user":
		// Backup join in case the client missed the handshake ack. Only the
		// connection's own user room is honored.
		c.hub.JoinRoom(c, UserRoom(c.userID))
		c.sendAck("joined", UserRoom(c.userID))
	case "join":
		if !c.ownRoom(msg.Room) {
			c.hub.log.Warn("realtime join denied",
				slog.String("user_id", c.userID),
				slog.String("room", msg.Room),
			)
			c.sendAck("denied", msg.Room)
			return
		}
		c.hub.JoinRoom(c, msg.Room)
		c.sendAck("joined", msg.Room)
	case "leave":
		if !c.ownRoom(msg.Room) {
			c.sendAck("denied", msg.Room)
			return
		}
		c.hub.LeaveRoom(c, msg.Room)
		c.sendAck("left", msg.Room)
	case "ping":
		c.sendAck("pong", "")
	default:
		c.hub.log.Warn("realtime unknown action",
			slog.String("action", msg.Action),
			slog.String("user_id", c.userID),
		)
	}
}

// ownRoom reports whether the room belongs to this connection's identity.
// Clients may only manage their own user room and the room of the role their
// token carries; everything else is hub-assigned.
func (c *Client) ownRoom(room string) bool {
	return room != "" && (room == UserRoom(c.userID) || room == RoleRoom(c.role))
}

func (c *Client) sendAck(action, room string) {
	msg := Message{
		Event: "ack",
		Payload: map[string]string{
			"action": action,
			"room":   room,
		},
		Timestamp: time.Now(),
	}
	data, _ := json.Marshal(msg)

	select {
	case c.send <- data:
	default:
	}
}
