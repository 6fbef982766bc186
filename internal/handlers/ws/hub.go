package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const clientSendBuffer = 64

// client is one connected UI tab. Events are queued on its send channel;
// a full queue drops the event rather than blocking the publisher.
type client struct {
	conn *websocket.Conn
	send chan ports.UIEvent
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans UI events out to connected WebSocket clients and feeds chat
// input from clients into the room sessions. It implements ports.Notifier.
type Hub struct {
	sessions *services.SessionManager

	mu      sync.RWMutex
	clients map[*client]struct{}

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

// inboundMessage is what the UI sends upstream: chat text and typing
// signals for an open room.
type inboundMessage struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"room_id"`
	Body   string        `json:"body,omitempty"`
}

func NewHub(sessions *services.SessionManager, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		sessions:     sessions,
		clients:      make(map[*client]struct{}),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// BindSessions attaches the session manager after construction. The hub is
// the manager's notifier, so one of the two has to be wired late.
func (h *Hub) BindSessions(sessions *services.SessionManager) {
	h.sessions = sessions
}

// Publish queues an event for every connected client. Never blocks; slow
// clients lose events and catch up from the next state snapshot.
func (h *Hub) Publish(ev ports.UIEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Debugw("ui client send buffer full, dropping event", "type", ev.Type)
		}
	}
}

func (h *Hub) SetupRoutes(router *gin.Engine, auth gin.HandlerFunc) {
	router.GET("/api/v1/events", auth, h.HandleWebSocket)
}

func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan ports.UIEvent, clientSendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Infow("ui client connected", "clients", clientCount)

	go h.readLoop(c.Request.Context(), cl)
	h.writeLoop(cl)

	h.mu.Lock()
	delete(h.clients, cl)
	h.mu.Unlock()
	cl.close()

	h.logger.Infow("ui client disconnected")
}

// readLoop consumes chat input and typing signals from the client until
// the connection drops.
func (h *Hub) readLoop(ctx context.Context, cl *client) {
	defer cl.close()

	cl.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	for {
		var msg inboundMessage
		if err := cl.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("ui client read failed", "error", err)
			}
			return
		}
		cl.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		h.handleInbound(ctx, msg)
	}
}

func (h *Hub) handleInbound(ctx context.Context, msg inboundMessage) {
	if h.sessions == nil {
		return
	}
	session, ok := h.sessions.Get(msg.RoomID)
	if !ok {
		h.logger.Warnw("inbound ui message for unjoined room", "room_id", msg.RoomID, "type", msg.Type)
		return
	}

	switch msg.Type {
	case "chat":
		if _, err := session.Chat.Send(ctx, msg.Body); err != nil {
			h.logger.Warnw("chat send rejected", "room_id", msg.RoomID, "error", err)
		}
	case "typing":
		session.Chat.NotifyTyping(ctx)
	default:
		h.logger.Warnw("unknown ui message type", "type", msg.Type)
	}
}

// writeLoop pushes queued events and keeps the connection alive with pings.
func (h *Hub) writeLoop(cl *client) {
	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case ev := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := cl.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-pingTicker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-cl.done:
			return
		}
	}
}

// ClientCount reports how many UI tabs are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
