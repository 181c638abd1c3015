package usecase

import (
	"go.uber.org/zap"

	"collabnotes/internal/domain"
)

// PresenceBroadcaster relays the ephemeral signals of a room: typing
// indicators and cursor positions. Nothing here touches document state or
// versions; frames are fanned out to the other members and dropped when the
// room does not exist.
type PresenceBroadcaster struct {
	rooms  *RoomManager
	logger *zap.Logger
}

// NewPresenceBroadcaster creates the broadcaster. Its room manager is bound
// during wiring by NewRoomManager.
func NewPresenceBroadcaster(logger *zap.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{logger: logger}
}

// TypingStart relays a typing indicator to the other room members and
// remembers the state so a disconnect can synthesize the stop.
func (p *PresenceBroadcaster) TypingStart(conn *Connection, documentID string) {
	conn.SetTyping(true)
	p.rooms.Broadcast(documentID, conn.ID, p.indicator(conn, documentID, true))
}

// TypingStop relays the end of typing to the other room members.
func (p *PresenceBroadcaster) TypingStop(conn *Connection, documentID string) {
	conn.SetTyping(false)
	p.rooms.Broadcast(documentID, conn.ID, p.indicator(conn, documentID, false))
}

// CursorMoved relays a caret position to the other room members.
func (p *PresenceBroadcaster) CursorMoved(conn *Connection, update *domain.CursorUpdate) {
	p.rooms.Broadcast(update.DocumentID, conn.ID, &domain.CursorBroadcast{
		Type:         domain.MsgCursorBroadcast,
		DocumentID:   update.DocumentID,
		ConnectionID: conn.ID,
		UserID:       conn.Identity.UserID,
		Username:     conn.Identity.DisplayName,
		Position:     update.Position,
		Selection:    update.Selection,
	})
}

// Disconnected emits the implicit typing-stop for a connection that dropped
// while it was still typing. Called by the registry before the room
// departure, so remaining members never see a stuck indicator.
func (p *PresenceBroadcaster) Disconnected(conn *Connection, documentID string) {
	if !conn.Typing() {
		return
	}
	conn.SetTyping(false)
	p.rooms.Broadcast(documentID, conn.ID, p.indicator(conn, documentID, false))
	p.logger.Debug("synthesized typing stop on disconnect",
		zap.String("document_id", documentID),
		zap.String("connection_id", conn.ID))
}

func (p *PresenceBroadcaster) indicator(conn *Connection, documentID string, typing bool) *domain.TypingIndicator {
	return &domain.TypingIndicator{
		Type:       domain.MsgTypingIndicator,
		DocumentID: documentID,
		UserID:     conn.Identity.UserID,
		Username:   conn.Identity.DisplayName,
		IsTyping:   typing,
	}
}
