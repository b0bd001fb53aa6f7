package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// OverflowPolicy decides what happens when a connection's outbound queue
// is full.
type OverflowPolicy string

const (
	// OverflowDropOldest discards the oldest queued frame to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowDisconnect closes the slow connection.
	OverflowDisconnect OverflowPolicy = "disconnect"
)

// ParseOverflowPolicy validates a configured policy name.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case OverflowDropOldest, OverflowDisconnect:
		return p, nil
	default:
		return "", ErrInvalidOverflowPolicy
	}
}

// wireConn is the subset of *websocket.Conn the writer needs.
type wireConn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionOptions tune the outbound side of a Connection.
type ConnectionOptions struct {
	QueueSize    int
	Policy       OverflowPolicy
	WriteTimeout time.Duration
	PingInterval time.Duration // zero disables pings

	// OnOverflow, if set, is called each time the policy is applied.
	OnOverflow func(policy OverflowPolicy)
}

// DefaultConnectionOptions returns a 256-frame drop-oldest queue.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		QueueSize:    256,
		Policy:       OverflowDropOldest,
		WriteTimeout: 10 * time.Second,
	}
}

// Connection implements interfaces.Peer over a WebSocket. All writes go
// through one writer goroutine fed by a bounded queue, so Send never
// blocks on the network.
type Connection struct {
	id        string
	conn      wireConn
	remoteKey string
	opts      ConnectionOptions

	outbound chan []byte
	sendMu   sync.Mutex
	dropped  atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu       sync.RWMutex
	identity string
	bound    bool
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn wireConn, remoteKey string, opts ConnectionOptions) *Connection {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultConnectionOptions().QueueSize
	}
	if opts.Policy == "" {
		opts.Policy = OverflowDropOldest
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:        uuid.NewString(),
		conn:      conn,
		remoteKey: remoteKey,
		opts:      opts,
		outbound:  make(chan []byte, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.outbound:
			if c.opts.WriteTimeout > 0 {
				if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
					c.abort("set write deadline", err)
					return
				}
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.abort("write", err)
				return
			}

		case <-ping:
			var deadline time.Time
			if c.opts.WriteTimeout > 0 {
				deadline = time.Now().Add(c.opts.WriteTimeout)
			}
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.abort("ping", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) abort(op string, err error) {
	logrus.WithFields(logrus.Fields{
		"function":      "Connection.writeLoop",
		"connection_id": c.id,
		"op":            op,
		"error":         err.Error(),
	}).Debug("Outbound write failed, closing connection")
	_ = c.Close()
}

// Send enqueues frame for the writer. When the queue is full the overflow
// policy is applied and ErrQueueOverflow is returned. Under drop_oldest
// the frame is still queued.
func (c *Connection) Send(frame []byte) error {
	if c.ctx.Err() != nil {
		return ErrConnectionClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case c.outbound <- frame:
		return nil
	default:
	}

	if c.opts.OnOverflow != nil {
		c.opts.OnOverflow(c.opts.Policy)
	}

	switch c.opts.Policy {
	case OverflowDisconnect:
		logrus.WithFields(logrus.Fields{
			"function":      "Connection.Send",
			"connection_id": c.id,
			"queue_size":    c.opts.QueueSize,
		}).Warn("Outbound queue full, disconnecting slow connection")
		_ = c.Close()
	default:
		// Senders are serialized by sendMu and only the writer drains,
		// so one receive always frees one slot.
		select {
		case <-c.outbound:
			c.dropped.Add(1)
		default:
		}
		select {
		case c.outbound <- frame:
		default:
			c.dropped.Add(1)
		}
	}
	return ErrQueueOverflow
}

// Close stops the writer and closes the socket. It is idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RemoteKey() string { return c.remoteKey }

// Identity returns the bound identity and whether a Hello was accepted.
func (c *Connection) Identity() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.bound
}

// Bind records the identity claimed by the client.
func (c *Connection) Bind(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.bound = true
}

// Dropped returns how many queued frames drop_oldest has discarded.
func (c *Connection) Dropped() int64 {
	return c.dropped.Load()
}

// Queued returns the number of frames waiting for the writer.
func (c *Connection) Queued() int {
	return len(c.outbound)
}
