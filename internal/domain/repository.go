package domain

import "context"

// DocumentRepository is the durable-storage contract consumed by the sync
// engine. Storage is the source of truth for content at rest; the in-memory
// room state is authoritative only while a room is live.
type DocumentRepository interface {
	// Load fetches the document, or ErrNotFound.
	Load(ctx context.Context, documentID string) (*Document, error)

	// Save writes back the committed content, version, title and editor.
	Save(ctx context.Context, doc *Document) error

	// AppendRevision records one accepted commit in the document's history.
	AppendRevision(ctx context.Context, rev *Revision) error

	// CanRead reports whether the user may open the document (owner or any
	// collaborator).
	CanRead(ctx context.Context, userID, documentID string) (bool, error)

	// CanWrite reports whether the user may edit the document (owner or
	// write-permission collaborator).
	CanWrite(ctx context.Context, userID, documentID string) (bool, error)
}

// ShareRepository tracks shareable links. Access counting is plain external
// bookkeeping; it never feeds back into conflict resolution.
type ShareRepository interface {
	// TouchAccess resolves a share token, increments its access count and
	// returns the grant. ErrNotFound for unknown or expired tokens.
	TouchAccess(ctx context.Context, token string) (*ShareGrant, error)
}

// Authenticator verifies a bearer credential presented during the connection
// handshake. Failures map to ErrUnauthenticated or ErrExpiredCredential.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (*UserIdentity, error)
}
