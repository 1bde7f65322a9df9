package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SampleFrame is a playback telemetry frame from the client player.
type SampleFrame struct {
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Rate        float64 `json:"rate"`
	PlayerState string  `json:"player_state"` // playing | paused | ended
}

// TelemetryHandler consumes player telemetry arriving over the socket.
// Implemented by the session engine.
type TelemetryHandler interface {
	HandleSample(sessionID uuid.UUID, frame SampleFrame)
	HandleVisibility(sessionID uuid.UUID, hidden bool)
	HandleUnload(sessionID uuid.UUID)
}

// Client represents a single WebSocket connection bound to a watch session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    *uuid.UUID // nil for anonymous viewers
	hub       *Hub
	telemetry TelemetryHandler
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The session
// id is required; a token is optional (anonymous sessions earn nothing but
// still stream telemetry).
func ServeWs(hub *Hub, logger *zap.Logger, jwtValidate func(token string) (userID string, err error), telemetry TelemetryHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		if sessionIDStr == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		var userID *uuid.UUID
		if token := c.Query("token"); token != "" {
			userIDStr, err := jwtValidate(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			if id, err := uuid.Parse(userIDStr); err == nil {
				userID = &id
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    userID,
			hub:       hub,
			telemetry: telemetry,
			conn:      conn,
			send:      make(chan WSMessage, 256),
			logger:    logger,
		}
		hub.register(SessionTopic(sessionID), client)
		if userID != nil {
			hub.register(UserTopic(*userID), client)
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(SessionTopic(c.SessionID), c)
		if c.UserID != nil {
			c.hub.unregister(UserTopic(*c.UserID), c)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "sample", "state":
			var frame SampleFrame
			if err := json.Unmarshal(msg.Data, &frame); err == nil {
				c.telemetry.HandleSample(c.SessionID, frame)
			}
		case "visibility":
			var payload struct {
				Hidden bool `json:"hidden"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err == nil {
				c.telemetry.HandleVisibility(c.SessionID, payload.Hidden)
			}
		case "unload":
			c.telemetry.HandleUnload(c.SessionID)
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
