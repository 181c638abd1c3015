package domain

import "errors"

// Fault taxonomy for the sync engine. Per-connection faults close only that
// connection's channel; they never tear down a room or its other members.
var (
	// ErrUnauthenticated means the bearer credential was missing, malformed
	// or could not be verified. The connection is refused before registration.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrExpiredCredential is a specialization of ErrUnauthenticated for
	// credentials that verified but have lapsed.
	ErrExpiredCredential = errors.New("credential expired")

	// ErrForbidden means the user is authenticated but lacks permission for
	// the requested document or write.
	ErrForbidden = errors.New("forbidden")

	// ErrWriteError means a durable-storage save failed. The in-memory
	// authoritative state stays correct and the save is retried.
	ErrWriteError = errors.New("storage write failed")

	// ErrPersistenceUnavailable is raised once save retries are exhausted.
	// Further commits for the room are rejected until storage recovers.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrNotFound means the document (or share token) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConnectionClosed means a send raced with connection teardown.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotInRoom means an operation referenced a document the connection
	// has not joined.
	ErrNotInRoom = errors.New("not attached to document")
)
