package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabnotes/internal/auth"
	"collabnotes/internal/domain"
	"collabnotes/internal/repository/memory"
	"collabnotes/internal/testutil"
	"collabnotes/internal/usecase"
)

var testSecret = []byte("handler-test-secret")

type env struct {
	server   *httptest.Server
	docs     *memory.DocumentStore
	shares   *memory.ShareStore
	registry *usecase.Registry
	rooms    *usecase.RoomManager
	handler  *Handler
}

func newEnv(t *testing.T) *env {
	return newEnvOpts(t, usecase.RoomManagerOptions{})
}

func newEnvOpts(t *testing.T, opts usecase.RoomManagerOptions) *env {
	t.Helper()
	logger := testutil.NewLogger()

	docs := memory.NewDocumentStore()
	docs.Put(&domain.Document{
		ID:      "doc-1",
		Title:   "Notes",
		Content: "hello",
		Version: 1,
		OwnerID: "alice",
		Collaborators: []domain.Collaborator{
			{UserID: "bob", Permission: "write"},
		},
	})
	shares := memory.NewShareStore()

	registry := usecase.NewRegistry(logger)
	presence := usecase.NewPresenceBroadcaster(logger)
	rooms := usecase.NewRoomManager(registry, presence, docs, usecase.NewEngine(), opts, logger)
	verifier := auth.NewJWTVerifier(testSecret)

	handler := NewHandler(registry, rooms, presence, verifier, shares, logger)
	router := mux.NewRouter()
	router.Handle("/ws", handler).Methods(http.MethodGet)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &env{
		server:   server,
		docs:     docs,
		shares:   shares,
		registry: registry,
		rooms:    rooms,
		handler:  handler,
	}
}

func (e *env) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func signToken(t *testing.T, userID, username string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId":   userID,
		"username": username,
		"exp":      exp.Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func dial(t *testing.T, e *env, userID string) *websocket.Conn {
	t.Helper()
	tok := signToken(t, userID, userID, time.Now().Add(time.Hour))
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(tok), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

// readUntil reads frames until one of the wanted type arrives, failing the
// test if it does not show up in time.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q frame", msgType)
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame["type"] == msgType {
			return frame
		}
	}
}

func join(t *testing.T, conn *websocket.Conn, documentID string) map[string]any {
	t.Helper()
	sendFrame(t, conn, map[string]any{"type": "join-document", "documentId": documentID})
	return readUntil(t, conn, "document-snapshot")
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	e := newEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsExpiredToken(t *testing.T) {
	e := newEnv(t)
	tok := signToken(t, "alice", "alice", time.Now().Add(-time.Minute))

	_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(tok), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinAndEdit(t *testing.T) {
	e := newEnv(t)
	conn := dial(t, e, "alice")

	snap := join(t, conn, "doc-1")
	assert.Equal(t, "hello", snap["content"])
	assert.Equal(t, float64(1), snap["version"])

	sendFrame(t, conn, map[string]any{
		"type":        "submit-change",
		"documentId":  "doc-1",
		"baseVersion": 1,
		"payload":     map[string]any{"kind": "full", "content": "hello world"},
	})

	ack := readUntil(t, conn, "change-accepted")
	assert.Equal(t, float64(2), ack["version"])
}

func TestBroadcastBetweenClients(t *testing.T) {
	e := newEnv(t)
	connA := dial(t, e, "alice")
	connB := dial(t, e, "bob")

	join(t, connA, "doc-1")
	join(t, connB, "doc-1")

	joined := readUntil(t, connA, "member-joined")
	member := joined["member"].(map[string]any)
	assert.Equal(t, "bob", member["userId"])

	sendFrame(t, connA, map[string]any{
		"type":         "submit-change",
		"documentId":   "doc-1",
		"baseVersion":  1,
		"payload":      map[string]any{"kind": "full", "content": "from alice"},
		"clientEchoId": "tab-1",
	})

	bc := readUntil(t, connB, "change-broadcast")
	assert.Equal(t, "alice", bc["editorUserId"])
	assert.Equal(t, "tab-1", bc["clientEchoId"])
	payload := bc["payload"].(map[string]any)
	assert.Equal(t, "from alice", payload["content"])
}

func TestStaleEditOverWire(t *testing.T) {
	e := newEnv(t)
	connA := dial(t, e, "alice")
	connB := dial(t, e, "bob")
	join(t, connA, "doc-1")
	join(t, connB, "doc-1")

	sendFrame(t, connA, map[string]any{
		"type":        "submit-change",
		"documentId":  "doc-1",
		"baseVersion": 1,
		"payload":     map[string]any{"kind": "full", "content": "first"},
	})
	readUntil(t, connA, "change-accepted")

	sendFrame(t, connB, map[string]any{
		"type":        "submit-change",
		"documentId":  "doc-1",
		"baseVersion": 1,
		"payload":     map[string]any{"kind": "full", "content": "second"},
	})

	mismatch := readUntil(t, connB, "version-mismatch")
	assert.Equal(t, float64(2), mismatch["currentVersion"])
	assert.Equal(t, "first", mismatch["currentContent"])
}

func TestShareTokenJoin(t *testing.T) {
	e := newEnv(t)
	e.shares.Put("link-1", &domain.ShareGrant{DocumentID: "doc-1", Permission: "read"})

	conn := dial(t, e, "guest")
	sendFrame(t, conn, map[string]any{
		"type":       "join-document",
		"documentId": "doc-1",
		"shareToken": "link-1",
	})

	snap := readUntil(t, conn, "document-snapshot")
	assert.Equal(t, "hello", snap["content"])
}

func TestUnknownShareToken(t *testing.T) {
	e := newEnv(t)
	conn := dial(t, e, "guest")

	sendFrame(t, conn, map[string]any{
		"type":       "join-document",
		"documentId": "doc-1",
		"shareToken": "bogus",
	})

	opErr := readUntil(t, conn, "operation-error")
	assert.Equal(t, domain.ErrForbidden.Error(), opErr["reason"])
}

func TestOperationOnUnjoinedDocument(t *testing.T) {
	e := newEnv(t)
	conn := dial(t, e, "alice")

	sendFrame(t, conn, map[string]any{
		"type":        "submit-change",
		"documentId":  "doc-1",
		"baseVersion": 1,
		"payload":     map[string]any{"kind": "full", "content": "nope"},
	})

	opErr := readUntil(t, conn, "operation-error")
	assert.Equal(t, domain.ErrNotInRoom.Error(), opErr["reason"])
}

func TestLivenessProbe(t *testing.T) {
	e := newEnv(t)
	conn := dial(t, e, "alice")

	sendFrame(t, conn, map[string]any{"type": "liveness-probe"})
	readUntil(t, conn, "liveness-ack")
}

func TestMalformedFrame(t *testing.T) {
	e := newEnv(t)
	conn := dial(t, e, "alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"no-such-thing"}`)))
	readUntil(t, conn, "operation-error")

	// The connection survives a bad frame.
	sendFrame(t, conn, map[string]any{"type": "liveness-probe"})
	readUntil(t, conn, "liveness-ack")
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	e := newEnv(t)
	connA := dial(t, e, "alice")
	connB := dial(t, e, "bob")
	join(t, connA, "doc-1")
	join(t, connB, "doc-1")
	readUntil(t, connA, "member-joined")

	require.NoError(t, connB.Close())

	left := readUntil(t, connA, "member-left")
	member := left["member"].(map[string]any)
	assert.Equal(t, "bob", member["userId"])
}
