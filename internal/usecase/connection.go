package usecase

import (
	"sync"

	"collabnotes/internal/domain"
)

// Sender delivers outbound messages to one connection's transport. The ws
// delivery layer implements it with a buffered send channel; tests implement
// it with an in-memory recorder.
type Sender interface {
	Send(msg domain.Outbound) error
}

// Connection is one live bidirectional channel to one authenticated user.
// It is owned exclusively by the Registry; rooms hold only a membership
// reference.
type Connection struct {
	ID       string
	Identity domain.UserIdentity

	sender Sender

	mu          sync.Mutex
	attachedDoc string
	typing      bool
}

// Send forwards an outbound message to the connection's transport.
func (c *Connection) Send(msg domain.Outbound) error {
	return c.sender.Send(msg)
}

// AttachedDoc returns the document this connection is attached to, or "".
func (c *Connection) AttachedDoc() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attachedDoc
}

func (c *Connection) setAttachedDoc(documentID string) {
	c.mu.Lock()
	c.attachedDoc = documentID
	c.mu.Unlock()
}

// SetTyping records the last typing state relayed for this connection, so a
// disconnect can synthesize the closing typing-stop.
func (c *Connection) SetTyping(typing bool) {
	c.mu.Lock()
	c.typing = typing
	c.mu.Unlock()
}

// Typing reports whether the connection last signalled typing-start.
func (c *Connection) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Member returns the presence view of this connection.
func (c *Connection) Member() domain.Member {
	return domain.Member{
		ConnectionID: c.ID,
		UserID:       c.Identity.UserID,
		DisplayName:  c.Identity.DisplayName,
	}
}
