package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabnotes/internal/domain"
	"collabnotes/internal/usecase"
)

// rawConn dials a throwaway upgrade endpoint and returns the client-side
// socket, for building clients whose pumps are deliberately never started.
func rawConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// A member whose send queue is full gets disconnected by the room's own
// broadcast, and that teardown must not block the actor: it re-enters the
// sync layer (registry removal, room departure) and the actor is the only
// consumer of the inbox it would otherwise be producing into.
func TestSlowConsumerDisconnectDoesNotWedgeRoom(t *testing.T) {
	e := newEnvOpts(t, usecase.RoomManagerOptions{InboxSize: 1})

	// bob: a registered, attached client whose pumps never run, so nothing
	// ever drains its send queue.
	stalled := newClient(e.handler, rawConn(t), domain.UserIdentity{UserID: "bob", DisplayName: "bob"})
	_, err := e.registry.Attach(context.Background(), stalled.conn.ID, "doc-1", nil)
	require.NoError(t, err)

	connA := dial(t, e, "alice")
	join(t, connA, "doc-1")

	for len(stalled.send) < sendBufferSize {
		require.NoError(t, stalled.Send(&domain.LivenessAck{Type: domain.MsgLivenessAck}))
	}

	// This broadcast overflows bob's queue and triggers the disconnect.
	sendFrame(t, connA, map[string]any{
		"type":        "submit-change",
		"documentId":  "doc-1",
		"baseVersion": 1,
		"payload":     map[string]any{"kind": "full", "content": "overflow"},
	})

	ack := readUntil(t, connA, "change-accepted")
	assert.Equal(t, float64(2), ack["version"])

	require.Eventually(t, func() bool {
		return e.registry.Count() == 1 && len(e.rooms.ListMembers("doc-1")) == 1
	}, 3*time.Second, 20*time.Millisecond, "slow consumer should be removed without wedging the room")

	// The room keeps serving the remaining member.
	sendFrame(t, connA, map[string]any{
		"type":        "submit-change",
		"documentId":  "doc-1",
		"baseVersion": 2,
		"payload":     map[string]any{"kind": "full", "content": "still alive"},
	})
	ack = readUntil(t, connA, "change-accepted")
	assert.Equal(t, float64(3), ack["version"])
}

func TestTypingTimeoutSynthesizesStop(t *testing.T) {
	e := newEnv(t)
	e.handler.typingIdle = 100 * time.Millisecond

	connA := dial(t, e, "alice")
	connB := dial(t, e, "bob")
	join(t, connA, "doc-1")
	join(t, connB, "doc-1")

	sendFrame(t, connA, map[string]any{"type": "typing-start", "documentId": "doc-1"})

	start := readUntil(t, connB, "typing-indicator")
	assert.Equal(t, true, start["isTyping"])
	assert.Equal(t, "alice", start["userId"])

	// alice goes quiet without a typing-stop; the server supplies it.
	stop := readUntil(t, connB, "typing-indicator")
	assert.Equal(t, false, stop["isTyping"])
	assert.Equal(t, "alice", stop["userId"])
}

func TestTypingStopCancelsTimeout(t *testing.T) {
	e := newEnv(t)
	e.handler.typingIdle = 100 * time.Millisecond

	connA := dial(t, e, "alice")
	connB := dial(t, e, "bob")
	join(t, connA, "doc-1")
	join(t, connB, "doc-1")

	sendFrame(t, connA, map[string]any{"type": "typing-start", "documentId": "doc-1"})
	readUntil(t, connB, "typing-indicator")
	sendFrame(t, connA, map[string]any{"type": "typing-stop", "documentId": "doc-1"})

	stop := readUntil(t, connB, "typing-indicator")
	assert.Equal(t, false, stop["isTyping"])

	// No second stop arrives after the quiet period; the next frame on
	// bob's connection is the liveness ack to its own probe.
	time.Sleep(250 * time.Millisecond)
	sendFrame(t, connB, map[string]any{"type": "liveness-probe"})
	frame := readNext(t, connB)
	assert.Equal(t, "liveness-ack", frame["type"])
}

// readNext reads exactly one frame, skipping nothing.
func readNext(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}
