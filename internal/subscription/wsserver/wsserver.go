// Package wsserver adapts the Subscription Manager to gorilla/websocket
// connections: it upgrades incoming HTTP requests, reads client frames
// (subscribe/unsubscribe/ping), and writes server frames (subscribed/data/
// notice/error/ping/pong) back over the socket.
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"jax-marketdata-core/internal/bars"
	"jax-marketdata-core/internal/obslog"
	"jax-marketdata-core/internal/subscription"
)

// Config holds the ping/write tunables of spec.md §6.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Manager is the subset of *internal/subscription.Manager the server needs.
type Manager interface {
	Subscribe(ctx context.Context, market, provider, symbol, timeframeRaw string, since *int64, sub subscription.Subscriber) error
	Unsubscribe(key bars.AssetKey, subscriberID string)
}

// Server upgrades HTTP connections to WebSocket and bridges them to a
// subscription.Manager.
type Server struct {
	manager Manager
	cfg     Config
}

func New(manager Manager, cfg Config) *Server {
	return &Server{manager: manager, cfg: cfg}
}

// ServeHTTP upgrades the request and runs the connection's read loop until
// it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		obslog.LogEvent(r.Context(), "warn", "wsserver_upgrade_failed", map[string]any{"error": err})
		return
	}
	c := newConnection(conn, s.manager, s.cfg)
	c.run()
}

// connection wraps one upgraded socket: a Subscriber implementation that
// serializes writes, plus the read loop that parses client frames and
// drives the Manager.
type connection struct {
	id      string
	conn    *websocket.Conn
	manager Manager
	cfg     Config

	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[bars.AssetKey]struct{}
}

func newConnection(conn *websocket.Conn, manager Manager, cfg Config) *connection {
	return &connection{
		id:      uuid.NewString(),
		conn:    conn,
		manager: manager,
		cfg:     cfg,
		subs:    make(map[bars.AssetKey]struct{}),
	}
}

func (c *connection) ID() string { return c.id }

// Send implements subscription.Subscriber by writing one JSON text frame.
func (c *connection) Send(ctx context.Context, frame subscription.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *connection) run() {
	defer c.closeAll()
	defer c.conn.Close()

	go c.pingLoop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscription.ClientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = c.Send(context.Background(), subscription.Frame{Type: subscription.FrameError, Payload: subscription.MessagePayload{Message: "malformed request"}})
			continue
		}
		c.handleRequest(req)
	}
}

func (c *connection) handleRequest(req subscription.ClientRequest) {
	ctx := context.Background()
	switch req.Action {
	case subscription.ActionSubscribe:
		key := bars.AssetKey{Market: req.Market, Provider: req.Provider, Symbol: req.Symbol, Timeframe: req.Timeframe}
		if err := c.manager.Subscribe(ctx, req.Market, req.Provider, req.Symbol, req.Timeframe, req.Since, c); err != nil {
			return
		}
		c.subsMu.Lock()
		c.subs[key] = struct{}{}
		c.subsMu.Unlock()
	case subscription.ActionUnsubscribe:
		key := bars.AssetKey{Market: req.Market, Provider: req.Provider, Symbol: req.Symbol, Timeframe: req.Timeframe}
		c.manager.Unsubscribe(key, c.id)
		c.subsMu.Lock()
		delete(c.subs, key)
		c.subsMu.Unlock()
	case subscription.ActionPong:
		// client acked our ping; nothing to do.
	case subscription.ActionPing:
		_ = c.Send(ctx, subscription.Frame{Type: subscription.FramePong})
	}
}

func (c *connection) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := c.Send(context.Background(), subscription.Frame{Type: subscription.FramePing}); err != nil {
			return
		}
	}
}

func (c *connection) closeAll() {
	c.subsMu.Lock()
	keys := make([]bars.AssetKey, 0, len(c.subs))
	for k := range c.subs {
		keys = append(keys, k)
	}
	c.subsMu.Unlock()
	for _, k := range keys {
		c.manager.Unsubscribe(k, c.id)
	}
}
