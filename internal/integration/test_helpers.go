// Package integration exercises the assembled relay over real WebSocket
// connections.
package integration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"echorelay/internal/app"
	"echorelay/internal/config"
	"echorelay/pkg/client"
	"echorelay/pkg/protocol"
)

const frameTimeout = 2 * time.Second

// relay is one application served from an httptest server.
type relay struct {
	app    *app.Application
	server *httptest.Server
}

// testConfig allows enough frames per second that tests sharing the
// loopback address are never throttled.
func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RateLimit.Rate = 1000
	cfg.RateLimit.Burst = 1000
	return cfg
}

func startRelay(t *testing.T, cfg *config.Config, opts ...app.Option) *relay {
	t.Helper()
	a, err := app.NewApplication(cfg, opts...)
	require.NoError(t, err)

	server := httptest.NewServer(a.Handler())
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return &relay{app: a, server: server}
}

func (r *relay) dial(t *testing.T) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	c, err := client.Dial(ctx, r.server.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// login dials and binds identity, consuming the ack.
func (r *relay) login(t *testing.T, identity string) *client.Client {
	t.Helper()
	c := r.dial(t)
	require.NoError(t, c.Hello(identity))
	expectAck(t, c, identity)
	return c
}

func (r *relay) waitOpenConnections(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.app.Stats().OpenConnections == n
	}, frameTimeout, 10*time.Millisecond)
}

func next(t *testing.T, c *client.Client) *protocol.ServerFrame {
	t.Helper()
	frame, err := c.Next(frameTimeout)
	require.NoError(t, err)
	return frame
}

func expectAck(t *testing.T, c *client.Client, identity string) {
	t.Helper()
	frame := next(t, c)
	require.Equal(t, protocol.TypeAck, frame.T, "frame: %+v", frame)
	require.Equal(t, identity, frame.UserID)
}

func expectError(t *testing.T, c *client.Client, reason string) {
	t.Helper()
	frame := next(t, c)
	require.Equal(t, protocol.TypeError, frame.T, "frame: %+v", frame)
	require.Equal(t, reason, frame.Error)
}

func expectDelivery(t *testing.T, c *client.Client, from, data string) {
	t.Helper()
	frame := next(t, c)
	require.Equal(t, protocol.TypeMsg, frame.T, "frame: %+v", frame)
	require.Equal(t, from, frame.From)
	require.Equal(t, data, frame.Data)
}

func expectSilence(t *testing.T, c *client.Client, wait time.Duration) {
	t.Helper()
	frame, err := c.Next(wait)
	require.ErrorIs(t, err, client.ErrTimeout, "unexpected frame: %+v", frame)
}
