package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echorelay/pkg/interfaces"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeWire stalls the writer inside WriteMessage until released, which lets
// tests fill the outbound queue deterministically.
type fakeWire struct {
	entered chan struct{}
	release chan struct{}

	mu       sync.Mutex
	written  []string
	closed   bool
	writeErr error
	pings    atomic.Int32
}

func newFakeWire() *fakeWire {
	return &fakeWire{
		entered: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

func (f *fakeWire) WriteMessage(_ int, data []byte) error {
	f.entered <- struct{}{}
	<-f.release

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, string(data))
	return nil
}

func (f *fakeWire) WriteControl(int, []byte, time.Time) error {
	f.pings.Add(1)
	return nil
}

func (f *fakeWire) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWire) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWire) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func (f *fakeWire) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitEntered(t *testing.T, f *fakeWire) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never picked up a frame")
	}
}

func TestConnection_ImplementsPeer(t *testing.T) {
	var _ interfaces.Peer = &Connection{}
}

func TestConnection_NewConnectionDefaults(t *testing.T) {
	wire := newFakeWire()
	close(wire.release)

	conn := NewConnection(wire, "10.0.0.1", ConnectionOptions{})
	defer conn.Close()

	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, "10.0.0.1", conn.RemoteKey())
	assert.Equal(t, 256, cap(conn.outbound))
	assert.Equal(t, OverflowDropOldest, conn.opts.Policy)

	_, bound := conn.Identity()
	assert.False(t, bound, "new connection has no identity")
}

func TestConnection_BindIdentity(t *testing.T) {
	wire := newFakeWire()
	close(wire.release)
	conn := NewConnection(wire, "k", DefaultConnectionOptions())
	defer conn.Close()

	conn.Bind("alice")
	id, bound := conn.Identity()
	assert.True(t, bound)
	assert.Equal(t, "alice", id)

	conn.Bind("bob")
	id, _ = conn.Identity()
	assert.Equal(t, "bob", id)
}

func TestConnection_SendPreservesOrder(t *testing.T) {
	wire := newFakeWire()
	close(wire.release)
	conn := NewConnection(wire, "k", DefaultConnectionOptions())
	defer conn.Close()

	for _, f := range []string{"1", "2", "3", "4"} {
		require.NoError(t, conn.Send([]byte(f)))
	}
	assert.Eventually(t, func() bool { return len(wire.snapshot()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3", "4"}, wire.snapshot())
}

func TestConnection_DropOldestOnOverflow(t *testing.T) {
	wire := newFakeWire()
	var overflows []OverflowPolicy
	conn := NewConnection(wire, "k", ConnectionOptions{
		QueueSize: 2,
		Policy:    OverflowDropOldest,
		OnOverflow: func(p OverflowPolicy) {
			overflows = append(overflows, p)
		},
	})
	defer conn.Close()

	require.NoError(t, conn.Send([]byte("f1")))
	waitEntered(t, wire) // writer holds f1

	require.NoError(t, conn.Send([]byte("f2")))
	require.NoError(t, conn.Send([]byte("f3")))
	assert.Equal(t, 2, conn.Queued())

	err := conn.Send([]byte("f4"))
	assert.ErrorIs(t, err, ErrQueueOverflow)
	assert.ErrorIs(t, err, interfaces.ErrOutboundOverflow)
	assert.Equal(t, int64(1), conn.Dropped())
	assert.Equal(t, []OverflowPolicy{OverflowDropOldest}, overflows)

	close(wire.release)
	assert.Eventually(t, func() bool { return len(wire.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"f1", "f3", "f4"}, wire.snapshot(), "oldest queued frame is discarded")

	select {
	case <-conn.Done():
		t.Fatal("drop_oldest must not close the connection")
	default:
	}
}

func TestConnection_DisconnectOnOverflow(t *testing.T) {
	wire := newFakeWire()
	defer close(wire.release)

	conn := NewConnection(wire, "k", ConnectionOptions{
		QueueSize: 1,
		Policy:    OverflowDisconnect,
	})

	require.NoError(t, conn.Send([]byte("f1")))
	waitEntered(t, wire)
	require.NoError(t, conn.Send([]byte("f2")))

	err := conn.Send([]byte("f3"))
	assert.ErrorIs(t, err, ErrQueueOverflow)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection should close under the disconnect policy")
	}
	assert.True(t, wire.isClosed())

	err = conn.Send([]byte("f4"))
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, err, interfaces.ErrPeerClosed)
}

func TestConnection_WriteErrorClosesConnection(t *testing.T) {
	wire := newFakeWire()
	wire.writeErr = errors.New("broken pipe")
	close(wire.release)

	conn := NewConnection(wire, "k", DefaultConnectionOptions())
	require.NoError(t, conn.Send([]byte("f1")))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("write failure should close the connection")
	}
	assert.True(t, wire.isClosed())
}

func TestConnection_PingsWhenEnabled(t *testing.T) {
	wire := newFakeWire()
	close(wire.release)

	opts := DefaultConnectionOptions()
	opts.PingInterval = 10 * time.Millisecond
	conn := NewConnection(wire, "k", opts)
	defer conn.Close()

	assert.Eventually(t, func() bool { return wire.pings.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestConnection_NoPingsByDefault(t *testing.T) {
	wire := newFakeWire()
	close(wire.release)
	conn := NewConnection(wire, "k", DefaultConnectionOptions())
	defer conn.Close()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), wire.pings.Load())
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	wire := newFakeWire()
	close(wire.release)
	conn := NewConnection(wire, "k", DefaultConnectionOptions())

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Send([]byte("x")), ErrConnectionClosed)
}

func TestConnection_OverRealSocket(t *testing.T) {
	received := make(chan string, 4)
	wsConn := createTestWebSocketConnection(t, func(msg []byte) { received <- string(msg) })

	conn := NewConnection(wsConn, "127.0.0.1", DefaultConnectionOptions())
	defer conn.Close()

	require.NoError(t, conn.Send([]byte(`{"t":"msg","from":"a","data":"hi"}`)))

	select {
	case msg := <-received:
		assert.Equal(t, `{"t":"msg","from":"a","data":"hi"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the peer")
	}
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("drop_oldest")
	require.NoError(t, err)
	assert.Equal(t, OverflowDropOldest, p)

	p, err = ParseOverflowPolicy("disconnect")
	require.NoError(t, err)
	assert.Equal(t, OverflowDisconnect, p)

	_, err = ParseOverflowPolicy("block")
	assert.ErrorIs(t, err, ErrInvalidOverflowPolicy)
}

// Helper function to create a test WebSocket connection. The server side
// hands every frame it reads to onMessage.
func createTestWebSocketConnection(t *testing.T, onMessage func([]byte)) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if onMessage != nil {
				onMessage(msg)
			}
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "Failed to create test WebSocket connection")
	t.Cleanup(func() { conn.Close() })

	return conn
}
