// internal/api/websocket_test.go
package api

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn 记录写入的消息
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, errors.New("not supported") }
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(appData string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func TestWebSocketManager_BroadcastToProject(t *testing.T) {
	m := NewWebSocketManager()
	a := NewWebSocketClient(&fakeConn{}, "book-1")
	b := NewWebSocketClient(&fakeConn{}, "book-2")
	m.Register(a)
	m.Register(b)
	assert.Equal(t, 1, m.ClientCount("book-1"))

	m.BroadcastToProject("book-1", map[string]interface{}{"type": "session_update"})
	require.Len(t, a.send, 1)
	assert.Len(t, b.send, 0)
	assert.JSONEq(t, `{"type":"session_update"}`, string(<-a.send))

	status := m.GetStatus()
	assert.Equal(t, 2, status["total_connections"])
	assert.Equal(t, 2, status["total_projects"])

	m.Unregister(a)
	assert.True(t, a.IsClosed())
	assert.Equal(t, 0, m.ClientCount("book-1"))

	m.Shutdown()
	assert.True(t, b.IsClosed())
	assert.Equal(t, 0, m.GetStatus()["total_connections"])
}

func TestWebSocketManager_DropsSlowClients(t *testing.T) {
	m := NewWebSocketManager()
	slow := NewWebSocketClient(&fakeConn{}, "book-1")
	m.Register(slow)

	for i := 0; i < sendBuffer; i++ {
		m.BroadcastToProject("book-1", map[string]interface{}{"n": i})
	}
	assert.Equal(t, 1, m.ClientCount("book-1"))

	m.BroadcastToProject("book-1", map[string]interface{}{"n": "overflow"})
	assert.Equal(t, 0, m.ClientCount("book-1"))
	assert.True(t, slow.IsClosed())

	// 关闭后的发送被忽略
	assert.NoError(t, slow.SendMessage(map[string]interface{}{"type": "late"}))
}

func TestWebSocketClient_WritePumpDeliversQueue(t *testing.T) {
	conn := &fakeConn{}
	client := NewWebSocketClient(conn, "book-1")

	done := make(chan struct{})
	go func() {
		client.writePump()
		close(done)
	}()

	client.SendError("boom")
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.written) == 1
	}, time.Second, 5*time.Millisecond)

	var msg map[string]interface{}
	conn.mu.Lock()
	require.NoError(t, json.Unmarshal(conn.written[0], &msg))
	conn.mu.Unlock()
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "boom", msg["error"])

	client.Close()
	<-done
	conn.mu.Lock()
	assert.True(t, conn.closed)
	conn.mu.Unlock()
}

func readType(t *testing.T, conn *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == want {
			return msg
		}
	}
}

func TestProjectWebSocket(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	id := s.createProject(t)

	server := httptest.NewServer(s.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/projects/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	connected := readType(t, conn, "connected")
	session, ok := connected["session"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, id, session["id"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readType(t, conn, "pong")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "shout"}))
	errMsg := readType(t, conn, "error")
	assert.Contains(t, errMsg["error"], "unknown message type")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message"}))
	errMsg = readType(t, conn, "error")
	assert.Equal(t, "text or action is required", errMsg["error"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "text": "Novel"}))
	update := readType(t, conn, "session_update")
	updated, ok := update["session"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "fiction", updated["trackId"])
	assert.Equal(t, 1, s.handler.WebSocket.ClientCount(id))
}
