package domain

import "time"

// Document is the durable record for one collaborative note.
type Document struct {
	ID            string         `bson:"_id" json:"id"`
	Title         string         `bson:"title" json:"title"`
	Content       string         `bson:"content" json:"content"`
	Version       int64          `bson:"version" json:"version"`
	OwnerID       string         `bson:"owner_id" json:"ownerId"`
	Collaborators []Collaborator `bson:"collaborators,omitempty" json:"collaborators,omitempty"`
	LastEditedBy  string         `bson:"last_edited_by" json:"lastEditedBy"`
	UpdatedAt     time.Time      `bson:"updated_at" json:"updatedAt"`
}

// Collaborator grants one user standing access to a document.
type Collaborator struct {
	UserID     string `bson:"user_id" json:"userId"`
	Permission string `bson:"permission" json:"permission"` // "read" or "write"
}

// Snapshot is the state handed to a connection when it joins a document.
type Snapshot struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Version    int64  `json:"version"`
	Title      string `json:"title"`
}

// Revision records one accepted commit for a document's history.
type Revision struct {
	ID         int64     `bson:"_id" json:"id"`
	DocumentID string    `bson:"document_id" json:"documentId"`
	Version    int64     `bson:"version" json:"version"`
	EditorID   string    `bson:"editor_id" json:"editorId"`
	Kind       string    `bson:"kind" json:"kind"` // "content", "title" or "save"
	Timestamp  time.Time `bson:"timestamp" json:"timestamp"`
}

// UserIdentity is the authenticated principal behind a connection.
type UserIdentity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Member describes one room member for presence rosters.
type Member struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
}

// ShareGrant is the access a share token confers on a single document.
type ShareGrant struct {
	DocumentID string    `json:"documentId"`
	Permission string    `json:"permission"` // "read" or "write"
	ExpiresAt  time.Time `json:"expiresAt"`
	Accesses   int64     `json:"accesses"`
}

// CanWrite reports whether the grant allows edits.
func (g ShareGrant) CanWrite() bool {
	return g.Permission == "write"
}

// Expired reports whether the grant has lapsed at the given instant.
// A zero ExpiresAt means the link never expires.
func (g ShareGrant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}
