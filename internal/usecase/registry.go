package usecase

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collabnotes/internal/domain"
)

// Registry tracks live connections, their authenticated identity and which
// document (if any) each is attached to. Entries are mutated only by the
// connection's own lifecycle events; any goroutine may read through the
// registry's own synchronization.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	rooms    *RoomManager
	presence *PresenceBroadcaster
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. Bind wires it to the room manager
// and presence broadcaster before any connection is registered.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		logger: logger,
	}
}

// Bind attaches the collaborators the registry delegates to on attach,
// detach and remove. Called once during wiring.
func (r *Registry) Bind(rooms *RoomManager, presence *PresenceBroadcaster) {
	r.rooms = rooms
	r.presence = presence
}

// Register records a newly authenticated connection and mints its id.
func (r *Registry) Register(identity domain.UserIdentity, sender Sender) *Connection {
	conn := &Connection{
		ID:       uuid.NewString(),
		Identity: identity,
		sender:   sender,
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	r.logger.Info("connection registered",
		zap.String("connection_id", conn.ID),
		zap.String("user_id", identity.UserID),
		zap.String("display_name", identity.DisplayName))
	return conn
}

// Get looks up a live connection by id.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connectionID]
	return conn, ok
}

// Attach joins the connection to a document room and records the attachment.
// It is idempotent when already attached to the same document, and detaches
// from any previous document first; a connection is attached to at most one
// document at a time.
func (r *Registry) Attach(ctx context.Context, connectionID, documentID string, grant *domain.ShareGrant) (*domain.Snapshot, error) {
	conn, ok := r.Get(connectionID)
	if !ok {
		return nil, domain.ErrConnectionClosed
	}

	if prev := conn.AttachedDoc(); prev != "" && prev != documentID {
		r.rooms.Leave(conn, prev, false)
		conn.setAttachedDoc("")
	}

	snap, err := r.rooms.Join(ctx, conn, documentID, grant)
	if err != nil {
		return nil, err
	}
	conn.setAttachedDoc(documentID)
	return snap, nil
}

// Detach clears the connection's attachment, leaving its room if any.
func (r *Registry) Detach(connectionID string) {
	conn, ok := r.Get(connectionID)
	if !ok {
		return
	}
	if doc := conn.AttachedDoc(); doc != "" {
		r.rooms.Leave(conn, doc, false)
		conn.setAttachedDoc("")
	}
}

// Remove runs the unconditional cleanup for a closed transport: an implicit
// typing-stop for the room the connection was in, room departure, and
// forgetting the connection. Invoked exactly once per connection, even on
// abrupt network drops.
func (r *Registry) Remove(connectionID string) {
	conn, ok := r.Get(connectionID)
	if !ok {
		return
	}

	if doc := conn.AttachedDoc(); doc != "" {
		r.presence.Disconnected(conn, doc)
		r.rooms.Leave(conn, doc, true)
		conn.setAttachedDoc("")
	}

	r.mu.Lock()
	delete(r.conns, connectionID)
	r.mu.Unlock()

	r.logger.Info("connection removed",
		zap.String("connection_id", connectionID),
		zap.String("user_id", conn.Identity.UserID))
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
