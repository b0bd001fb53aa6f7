package websocket

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"echorelay/internal/instrument"
	"echorelay/pkg/interfaces"
	"echorelay/pkg/types"
)

// HandlerConfig tunes accepted connections.
type HandlerConfig struct {
	Connection        ConnectionOptions
	ReadLimit         int64 // max inbound frame size in bytes; larger frames close the connection
	TrustProxyHeaders bool  // take the rate-limit key from X-Forwarded-For
}

// DefaultHandlerConfig returns the defaults used by the relay.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Connection: DefaultConnectionOptions(),
		ReadLimit:  1 << 20,
	}
}

// Handler upgrades HTTP requests and runs one read loop per connection.
// Every inbound frame passes the limiter before the router sees it.
type Handler struct {
	router  interfaces.MessageRouter
	limiter interfaces.Limiter
	journal interfaces.Journal
	metrics *instrument.Metrics
	cfg     HandlerConfig

	upgrader websocket.Upgrader

	mu      sync.Mutex
	live    map[*Connection]struct{}
	closing bool
	wg      sync.WaitGroup
}

// HandlerOption configures optional Handler collaborators.
type HandlerOption func(*Handler)

// WithJournal records connection open and close events.
func WithJournal(j interfaces.Journal) HandlerOption {
	return func(h *Handler) { h.journal = j }
}

// WithMetrics counts frames and connections.
func WithMetrics(m *instrument.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a handler dispatching admitted frames to router.
func NewHandler(router interfaces.MessageRouter, limiter interfaces.Limiter, cfg HandlerConfig, opts ...HandlerOption) *Handler {
	h := &Handler{
		router:  router,
		limiter: limiter,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			// The relay serves any origin; clients authenticate each
			// other end to end.
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		live: make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, ErrHandlerShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Handler.ServeHTTP",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Debug("WebSocket upgrade failed")
		return
	}

	opts := h.cfg.Connection
	opts.OnOverflow = func(policy OverflowPolicy) {
		h.metrics.OutboundOverflow(string(policy))
	}
	conn := NewConnection(ws, h.remoteKey(r), opts)

	if !h.track(conn) {
		_ = conn.Close()
		return
	}
	h.serve(conn, ws)
}

// serve is the per-connection read loop.
func (h *Handler) serve(conn *Connection, ws *websocket.Conn) {
	h.metrics.ConnectionOpened()
	h.record(conn, types.EventOpened, "")
	logrus.WithFields(logrus.Fields{
		"function":      "Handler.serve",
		"connection_id": conn.ID(),
		"remote":        conn.RemoteKey(),
	}).Info("Connection opened")

	defer func() {
		h.router.Disconnect(conn)
		_ = conn.Close()
		h.untrack(conn)

		identity, _ := conn.Identity()
		h.metrics.ConnectionClosed()
		h.record(conn, types.EventClosed, identity)
		logrus.WithFields(logrus.Fields{
			"function":      "Handler.serve",
			"connection_id": conn.ID(),
			"identity":      identity,
			"dropped":       conn.Dropped(),
		}).Info("Connection closed")
	}()

	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}
	if ping := h.cfg.Connection.PingInterval; ping > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(2 * ping))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(2 * ping))
		})
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logrus.WithFields(logrus.Fields{
					"function":      "Handler.serve",
					"connection_id": conn.ID(),
					"error":         err.Error(),
				}).Debug("Read failed")
			}
			return
		}

		if !h.limiter.Allow(conn.RemoteKey()) {
			h.metrics.FrameRateLimited()
			continue
		}
		h.metrics.FrameAdmitted()
		h.router.HandleFrame(conn, data)
	}
}

// remoteKey derives the rate-limit key: the client IP without port.
func (h *Handler) remoteKey(r *http.Request) string {
	if h.cfg.TrustProxyHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) record(conn *Connection, kind, identity string) {
	if h.journal == nil {
		return
	}
	h.journal.Record(types.PresenceEvent{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID(),
		Kind:         kind,
		Identity:     identity,
		RemoteKey:    conn.RemoteKey(),
		At:           time.Now().UTC(),
	})
}

func (h *Handler) track(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.live[conn] = struct{}{}
	return true
}

func (h *Handler) untrack(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, conn)
}

// OpenConnections returns the number of connections being served.
func (h *Handler) OpenConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Shutdown refuses new connections, closes live ones and waits for their
// read loops to release the registry.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	conns := make([]*Connection, 0, len(h.live))
	for c := range h.live {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
