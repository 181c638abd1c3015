package memory

import (
	"context"
	"sync"
	"time"

	"collabnotes/internal/domain"
)

// DocumentStore is an in-memory domain.DocumentRepository for tests and
// local development. Save failures can be injected to exercise the
// persistence-unavailable path.
type DocumentStore struct {
	mu      sync.Mutex
	docs    map[string]*domain.Document
	revs    []*domain.Revision
	saveErr error
	saves   int
	nextRev int64
}

// NewDocumentStore returns an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[string]*domain.Document)}
}

// Put seeds a document.
func (s *DocumentStore) Put(doc *domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.docs[doc.ID] = &cp
}

// SetSaveErr makes subsequent Save calls fail with err; nil restores normal
// operation.
func (s *DocumentStore) SetSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// SaveCount reports how many Save calls succeeded.
func (s *DocumentStore) SaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Revisions returns all appended revisions in insertion order.
func (s *DocumentStore) Revisions() []*domain.Revision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Revision, len(s.revs))
	copy(out, s.revs)
	return out
}

func (s *DocumentStore) Load(_ context.Context, documentID string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *DocumentStore) Save(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	stored, ok := s.docs[doc.ID]
	if !ok {
		return domain.ErrNotFound
	}
	stored.Title = doc.Title
	stored.Content = doc.Content
	stored.Version = doc.Version
	stored.LastEditedBy = doc.LastEditedBy
	stored.UpdatedAt = doc.UpdatedAt
	s.saves++
	return nil
}

func (s *DocumentStore) AppendRevision(_ context.Context, rev *domain.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rev
	if cp.ID == 0 {
		s.nextRev++
		cp.ID = s.nextRev
	}
	s.revs = append(s.revs, &cp)
	return nil
}

func (s *DocumentStore) CanRead(_ context.Context, userID, documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return false, nil
	}
	if doc.OwnerID == userID {
		return true, nil
	}
	for _, c := range doc.Collaborators {
		if c.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *DocumentStore) CanWrite(_ context.Context, userID, documentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return false, nil
	}
	if doc.OwnerID == userID {
		return true, nil
	}
	for _, c := range doc.Collaborators {
		if c.UserID == userID && c.Permission == "write" {
			return true, nil
		}
	}
	return false, nil
}

// ShareStore is an in-memory domain.ShareRepository for tests.
type ShareStore struct {
	mu     sync.Mutex
	grants map[string]*domain.ShareGrant
}

// NewShareStore returns an empty store.
func NewShareStore() *ShareStore {
	return &ShareStore{grants: make(map[string]*domain.ShareGrant)}
}

// Put seeds a grant under a token.
func (s *ShareStore) Put(token string, grant *domain.ShareGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *grant
	s.grants[token] = &cp
}

func (s *ShareStore) TouchAccess(_ context.Context, token string) (*domain.ShareGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[token]
	if !ok || grant.Expired(time.Now()) {
		return nil, domain.ErrNotFound
	}
	grant.Accesses++
	cp := *grant
	return &cp, nil
}
