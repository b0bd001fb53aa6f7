// Package client is a Go client for the relay's WebSocket protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"echorelay/pkg/protocol"
)

var (
	ErrClosed  = errors.New("client: connection closed")
	ErrTimeout = errors.New("client: timed out waiting for frame")
)

// Client holds one relay connection. Frames from the server are buffered
// in arrival order and consumed with Next.
type Client struct {
	conn   *websocket.Conn
	frames chan *protocol.ServerFrame
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// Dial connects to the relay at rawURL. http and https URLs are mapped to
// ws and wss.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:   conn,
		frames: make(chan *protocol.ServerFrame, 256),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.frames)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}

		frame, err := protocol.DecodeServerFrame(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.readLoop",
				"error":    err.Error(),
			}).Debug("Skipping undecodable server frame")
			continue
		}

		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Hello claims identity on the relay.
func (c *Client) Hello(identity string) error {
	return c.SendRaw(protocol.EncodeHello(identity))
}

// Relay asks the server to forward data to the peer registered as to.
func (c *Client) Relay(to, data string) error {
	return c.SendRaw(protocol.EncodeRelay(to, data))
}

// SendRaw writes frame as a text message without validation.
func (c *Client) SendRaw(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Next returns the next server frame, waiting at most timeout.
func (c *Client) Next(timeout time.Duration) (*protocol.ServerFrame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame, ok := <-c.frames:
		if !ok {
			if err := c.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return nil, ErrClosed
		}
		return frame, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
