package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echorelay/pkg/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ackServer acknowledges every hello and closes after closeAfter frames
// when closeAfter is positive. It sends one undecodable frame first.
func ackServer(t *testing.T, closeAfter int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte("garbage"))

		for n := 1; ; n++ {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := protocol.Decode(raw)
			if err != nil {
				continue
			}
			if hello, ok := frame.(protocol.Hello); ok {
				_ = conn.WriteMessage(websocket.TextMessage, protocol.EncodeAck(hello.Identity))
			}
			if closeAfter > 0 && n >= closeAfter {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_HelloAck(t *testing.T) {
	server := ackServer(t, 0)

	c, err := Dial(context.Background(), server.URL)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello("alice"))
	frame, err := c.Next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAck, frame.T)
	assert.Equal(t, "alice", frame.UserID)
}

func TestClient_NextTimesOut(t *testing.T) {
	server := ackServer(t, 0)

	c, err := Dial(context.Background(), server.URL)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Next(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_ServerCloseEndsStream(t *testing.T) {
	server := ackServer(t, 1)

	c, err := Dial(context.Background(), server.URL)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello("bob"))
	frame, err := c.Next(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "bob", frame.UserID)

	_, err = c.Next(2 * time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Error(t, c.Err())
}

func TestClient_CloseRejectsWrites(t *testing.T) {
	server := ackServer(t, 0)

	c, err := Dial(context.Background(), server.URL)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.NoError(t, c.Close(), "close is idempotent")
	assert.ErrorIs(t, c.Relay("bob", "hi"), ErrClosed)
}

func TestDial_Errors(t *testing.T) {
	_, err := Dial(context.Background(), "://bad")
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = Dial(ctx, "ws://127.0.0.1:1")
	assert.Error(t, err)
}
