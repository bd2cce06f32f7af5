package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"BrentBreaks/internal/domain/models"
	xlogger "BrentBreaks/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// feedMessage is the frame pushed to dashboard clients.
type feedMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type feedClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// RunFeed pushes run notifications to websocket clients on /ws/runs.
// Clients that fall behind are disconnected rather than slowing the runner.
type RunFeed struct {
	upgrader websocket.Upgrader
	l        *xlogger.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
	closed  bool
}

func NewRunFeed(l *xlogger.Logger) *RunFeed {
	if l == nil {
		l = xlogger.Nop()
	}
	return &RunFeed{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		l:       l,
		clients: make(map[*feedClient]struct{}),
	}
}

func (f *RunFeed) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/runs", f.Serve)
}

// Serve upgrades the request and blocks until the client goes away.
func (f *RunFeed) Serve(c echo.Context) error {
	conn, err := f.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		f.l.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	client := &feedClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	if !f.register(client) {
		_ = conn.Close()
		return nil
	}
	f.l.Info("run feed client connected",
		xlogger.String("client_id", client.id),
		xlogger.String("remote", c.RealIP()))

	go f.writePump(client)
	f.readPump(client)
	return nil
}

// Broadcast sends n to every connected client.
func (f *RunFeed) Broadcast(n models.RunNotification) {
	b, err := json.Marshal(feedMessage{Type: "run", Data: n, Timestamp: time.Now().UTC()})
	if err != nil {
		f.l.Error("run notification encode failed", xlogger.Error(err))
		return
	}

	var slow []*feedClient
	f.mu.RLock()
	for c := range f.clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	f.mu.RUnlock()

	for _, c := range slow {
		f.l.Warn("run feed client too slow, disconnecting", xlogger.String("client_id", c.id))
		f.unregister(c)
	}
}

// Clients returns the number of connected clients.
func (f *RunFeed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Close disconnects every client and refuses new ones.
func (f *RunFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	clients := make([]*feedClient, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()
	for _, c := range clients {
		f.unregister(c)
	}
	return nil
}

func (f *RunFeed) register(c *feedClient) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.clients[c] = struct{}{}
	return true
}

// unregister is idempotent; the send channel is closed exactly once.
func (f *RunFeed) unregister(c *feedClient) {
	f.mu.Lock()
	_, ok := f.clients[c]
	if ok {
		delete(f.clients, c)
		close(c.send)
	}
	f.mu.Unlock()
	if ok {
		f.l.Info("run feed client disconnected", xlogger.String("client_id", c.id))
	}
}

func (f *RunFeed) readPump(c *feedClient) {
	defer func() {
		f.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				f.l.Warn("run feed read error", xlogger.String("client_id", c.id), xlogger.Error(err))
			}
			return
		}
	}
}

func (f *RunFeed) writePump(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
