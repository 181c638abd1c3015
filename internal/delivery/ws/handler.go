package ws

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabnotes/internal/domain"
	"collabnotes/internal/usecase"
)

// Handler authenticates websocket handshakes and hands accepted connections
// to the sync layer. The bearer credential travels in the `token` query
// parameter or an Authorization header; browsers cannot set custom headers on
// websocket upgrades, so the query form is the primary one.
type Handler struct {
	registry *usecase.Registry
	rooms    *usecase.RoomManager
	presence *usecase.PresenceBroadcaster
	auth     domain.Authenticator
	shares   domain.ShareRepository
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// typingIdle is the quiet period after a typing-start before the server
	// synthesizes the typing-stop the client failed to send.
	typingIdle time.Duration
}

// NewHandler creates the websocket endpoint handler.
func NewHandler(registry *usecase.Registry, rooms *usecase.RoomManager, presence *usecase.PresenceBroadcaster, auth domain.Authenticator, shares domain.ShareRepository, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		rooms:    rooms,
		presence: presence,
		auth:     auth,
		shares:   shares,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		typingIdle: typingTimeout,
	}
}

// ServeHTTP upgrades the request after verifying the caller's credential.
// Unauthenticated and expired credentials are rejected before the upgrade,
// so a failed handshake never consumes a connection slot.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credential := bearerToken(r)
	if credential == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}

	identity, err := h.auth.Verify(r.Context(), credential)
	if err != nil {
		reason := "invalid credential"
		if errors.Is(err, domain.ErrExpiredCredential) {
			reason = "expired credential"
		}
		h.logger.Warn("websocket handshake rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		http.Error(w, reason, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	c := newClient(h, conn, *identity)
	c.start()
}

func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	return ""
}
