package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	feedBuffer       = 16
	feedWriteTimeout = 5 * time.Second
)

// Feed pushes admin notifications to dashboards connected over websocket.
// Slow clients lose messages instead of holding up delivery.
type Feed struct {
	Logger *slog.Logger

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewFeed(logger *slog.Logger) *Feed {
	return &Feed{
		Logger:  logger,
		clients: map[*feedClient]struct{}{},
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.Logger.Warn("feed upgrade failed", "err", err)
		return
	}
	c := &feedClient{conn: conn, send: make(chan []byte, feedBuffer)}
	f.add(c)
	go f.writeLoop(c)

	// Reads only detect the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.remove(c)
}

func (f *Feed) Publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		f.Logger.Warn("feed encode failed", "err", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *Feed) add(c *feedClient) {
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

func (f *Feed) writeLoop(c *feedClient) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			f.remove(c)
			return
		}
	}
}
