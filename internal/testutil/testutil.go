// Package testutil provides websocket and logging helpers shared by the
// docsync test suites.
package testutil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every blocking read made through these helpers.
const DefaultTimeout = 2 * time.Second

// TestOrigin is sent as the Origin header by Dial.
const TestOrigin = "http://localhost:3001"

// Frame is the JSON envelope used on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WebSocketURL converts an httptest server URL into the relay endpoint URL.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// Dial opens a websocket connection with TestOrigin and closes it when the
// test ends.
func Dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, err := DialWithOrigin(url, TestOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialWithOrigin opens a websocket connection using the given Origin header.
// An empty origin sends no header.
func DialWithOrigin(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Send writes one event frame.
func Send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: raw}))
}

// Join sends a join-document event.
func Join(t *testing.T, conn *websocket.Conn, documentID, username string) {
	t.Helper()
	Send(t, conn, "join-document", map[string]string{
		"documentId": documentID,
		"username":   username,
	})
}

// Receive reads the next frame, failing the test after DefaultTimeout.
func Receive(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// ReceiveEvent reads the next frame and checks its event name.
func ReceiveEvent(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	f := Receive(t, conn)
	require.Equal(t, event, f.Event, "unexpected frame: %s", string(f.Data))
	return f
}

// Decode unmarshals a frame's data.
func Decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

// ExpectNoFrame asserts that nothing arrives within wait. A timed out
// websocket read leaves the connection unusable, so this must be the last
// read made on conn.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", string(data))
	}
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
