package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ordersBack/internal/events"
)

const (
	readLimit     = 4 << 10
	readDeadline  = 120 * time.Second // extended by every pong
	writeDeadline = 5 * time.Second
	pingInterval  = 15 * time.Second
	sendBuffer    = 64
)

type feedClient struct {
	conn *websocket.Conn
	send chan events.Event
}

// OrderFeed pushes domain events to connected staff dashboards. It is an
// events.Publisher; a slow client is dropped rather than blocking publishers.
type OrderFeed struct {
	register   chan *feedClient
	unregister chan *feedClient
	broadcast  chan events.Event
	done       chan struct{}
	logger     *slog.Logger
}

func NewOrderFeed(logger *slog.Logger) *OrderFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderFeed{
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		broadcast:  make(chan events.Event, sendBuffer),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run owns the client set. All operations on clients happen here.
func (f *OrderFeed) Run(ctx context.Context) {
	clients := make(map[*feedClient]struct{})
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				close(c.send)
			}
			return
		case c := <-f.register:
			clients[c] = struct{}{}
			f.logger.Info("feed client connected", "clients", len(clients))
		case c := <-f.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
				f.logger.Info("feed client disconnected", "clients", len(clients))
			}
		case e := <-f.broadcast:
			for c := range clients {
				select {
				case c.send <- e:
				default:
					f.logger.Warn("feed client too slow, dropping", "event", e.Topic)
					delete(clients, c)
					close(c.send)
				}
			}
		}
	}
}

func (f *OrderFeed) Publish(ctx context.Context, e events.Event) error {
	select {
	case f.broadcast <- e:
		return nil
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: true,
	// staff dashboards are served from other origins; the route is JWT guarded
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (f *OrderFeed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &feedClient{conn: conn, send: make(chan events.Event, sendBuffer)}
	select {
	case f.register <- c:
	case <-f.done:
		_ = conn.Close()
		return
	case <-r.Context().Done():
		_ = conn.Close()
		return
	}

	go f.writeLoop(c)
	go f.readLoop(c)
}

// readLoop only drains control frames; the feed is one way.
func (f *OrderFeed) readLoop(c *feedClient) {
	defer func() {
		select {
		case f.unregister <- c:
		case <-f.done:
		}
	}()
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *OrderFeed) writeLoop(c *feedClient) {
	t := time.NewTicker(pingInterval)
	defer func() {
		t.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case e, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = writeClose(c.conn, websocket.CloseGoingAway, "feed closed")
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}
		case <-t.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) error {
	return conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeDeadline),
	)
}
