package domain

import (
	"encoding/json"
	"fmt"
)

// Wire discriminators for inbound messages.
const (
	MsgJoinDocument      = "join-document"
	MsgLeaveDocument     = "leave-document"
	MsgSubmitChange      = "submit-change"
	MsgSubmitTitleChange = "submit-title-change"
	MsgCursorUpdate      = "cursor-update"
	MsgTypingStart       = "typing-start"
	MsgTypingStop        = "typing-stop"
	MsgManualSave        = "manual-save"
	MsgLivenessProbe     = "liveness-probe"
)

// Wire discriminators for outbound messages.
const (
	MsgDocumentSnapshot = "document-snapshot"
	MsgChangeBroadcast  = "change-broadcast"
	MsgTitleBroadcast   = "title-broadcast"
	MsgVersionMismatch  = "version-mismatch"
	MsgResyncRequired   = "resync-required"
	MsgChangeAccepted   = "change-accepted"
	MsgNoteSaved        = "note-saved"
	MsgNoteSavedByOther = "note-saved-by-other"
	MsgPresenceRoster   = "presence-roster"
	MsgMemberJoined     = "member-joined"
	MsgMemberLeft       = "member-left"
	MsgTypingIndicator  = "typing-indicator"
	MsgCursorBroadcast  = "cursor-broadcast"
	MsgOperationError   = "operation-error"
	MsgLivenessAck      = "liveness-ack"
)

// Payload kinds for SubmitChange.
const (
	PayloadFull  = "full"
	PayloadPatch = "patch"
)

// ChangePayload carries either a full replacement text or a patch against the
// proposal's base version.
type ChangePayload struct {
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	Patch   string `json:"patch,omitempty"`
}

// Inbound is the closed set of client-to-server messages. Decoding an unknown
// discriminator is an error, never a silently ignored event name.
type Inbound interface{ inbound() }

// JoinDocument asks to join a document room. ShareToken is set when access
// comes from a shareable link rather than collaborator status.
type JoinDocument struct {
	DocumentID string `json:"documentId"`
	ShareToken string `json:"shareToken,omitempty"`
}

// LeaveDocument leaves a document room explicitly.
type LeaveDocument struct {
	DocumentID string `json:"documentId"`
}

// SubmitChange proposes a content edit against a claimed base version.
type SubmitChange struct {
	DocumentID   string        `json:"documentId"`
	BaseVersion  int64         `json:"baseVersion"`
	Payload      ChangePayload `json:"payload"`
	ClientEchoID string        `json:"clientEchoId"`
}

// SubmitTitleChange proposes a title edit against a claimed base version.
type SubmitTitleChange struct {
	DocumentID  string `json:"documentId"`
	BaseVersion int64  `json:"baseVersion"`
	Title       string `json:"title"`
}

// CursorUpdate reports the sender's caret position and selection.
type CursorUpdate struct {
	DocumentID string `json:"documentId"`
	Position   int    `json:"position"`
	Selection  *Range `json:"selection,omitempty"`
}

// Range is a half-open [Start, End) selection in rune offsets.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// TypingStart signals the sender began typing.
type TypingStart struct {
	DocumentID string `json:"documentId"`
}

// TypingStop signals the sender stopped typing.
type TypingStop struct {
	DocumentID string `json:"documentId"`
}

// ManualSave commits the given content and/or title explicitly. Nil fields
// are left unchanged. It does not bypass version checking.
type ManualSave struct {
	DocumentID  string  `json:"documentId"`
	BaseVersion int64   `json:"baseVersion"`
	Content     *string `json:"content,omitempty"`
	Title       *string `json:"title,omitempty"`
}

// LivenessProbe is an application-level ping.
type LivenessProbe struct{}

func (JoinDocument) inbound()      {}
func (LeaveDocument) inbound()     {}
func (SubmitChange) inbound()      {}
func (SubmitTitleChange) inbound() {}
func (CursorUpdate) inbound()      {}
func (TypingStart) inbound()       {}
func (TypingStop) inbound()        {}
func (ManualSave) inbound()        {}
func (LivenessProbe) inbound()     {}

type inboundEnvelope struct {
	Type string `json:"type"`
}

// DecodeInbound parses one wire frame into its typed message.
func DecodeInbound(data []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	var msg Inbound
	switch env.Type {
	case MsgJoinDocument:
		msg = &JoinDocument{}
	case MsgLeaveDocument:
		msg = &LeaveDocument{}
	case MsgSubmitChange:
		msg = &SubmitChange{}
	case MsgSubmitTitleChange:
		msg = &SubmitTitleChange{}
	case MsgCursorUpdate:
		msg = &CursorUpdate{}
	case MsgTypingStart:
		msg = &TypingStart{}
	case MsgTypingStop:
		msg = &TypingStop{}
	case MsgManualSave:
		msg = &ManualSave{}
	case MsgLivenessProbe:
		return &LivenessProbe{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("malformed %s message: %w", env.Type, err)
	}
	return msg, nil
}

// Outbound is the closed set of server-to-client messages. Every concrete
// type carries its own discriminator so frames marshal directly.
type Outbound interface{ outbound() }

// DocumentSnapshot is sent to a connection right after it joins a room.
type DocumentSnapshot struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Version    int64  `json:"version"`
	Title      string `json:"title"`
}

// ChangeBroadcast fans an accepted content change out to other room members.
// The payload is relayed as received, not re-diffed.
type ChangeBroadcast struct {
	Type         string        `json:"type"`
	DocumentID   string        `json:"documentId"`
	Payload      ChangePayload `json:"payload"`
	Version      int64         `json:"version"`
	EditorUserID string        `json:"editorUserId"`
	EditorName   string        `json:"editorName"`
	ClientEchoID string        `json:"clientEchoId"`
}

// TitleBroadcast fans an accepted title change out to other room members.
type TitleBroadcast struct {
	Type         string `json:"type"`
	DocumentID   string `json:"documentId"`
	Title        string `json:"title"`
	Version      int64  `json:"version"`
	EditorUserID string `json:"editorUserId"`
	EditorName   string `json:"editorName"`
}

// VersionMismatch tells a proposer its base version was stale and hands it
// the authoritative state to rebase against.
type VersionMismatch struct {
	Type           string `json:"type"`
	DocumentID     string `json:"documentId"`
	CurrentVersion int64  `json:"currentVersion"`
	CurrentContent string `json:"currentContent"`
}

// ResyncRequired tells a proposer its patch did not apply; it must resend
// the edit as a full-text proposal.
type ResyncRequired struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

// ChangeAccepted acknowledges an accepted proposal to its submitter.
type ChangeAccepted struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Version    int64  `json:"version"`
}

// NoteSaved acknowledges a manual save to the saver.
type NoteSaved struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Version    int64  `json:"version"`
}

// NoteSavedByOther informs remaining members that someone saved.
type NoteSavedByOther struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Version    int64  `json:"version"`
}

// PresenceRoster lists current room members; sent to new joiners.
type PresenceRoster struct {
	Type       string   `json:"type"`
	DocumentID string   `json:"documentId"`
	Members    []Member `json:"members"`
}

// MemberJoined announces a new room member.
type MemberJoined struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Member     Member `json:"member"`
}

// MemberLeft announces a departed room member.
type MemberLeft struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	Member     Member `json:"member"`
}

// TypingIndicator relays typing state for one user.
type TypingIndicator struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	IsTyping   bool   `json:"isTyping"`
}

// CursorBroadcast relays a member's caret position to the rest of the room.
type CursorBroadcast struct {
	Type         string `json:"type"`
	DocumentID   string `json:"documentId"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Position     int    `json:"position"`
	Selection    *Range `json:"selection,omitempty"`
}

// OperationError reports a per-operation failure to the sender.
type OperationError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// LivenessAck answers a liveness probe.
type LivenessAck struct {
	Type string `json:"type"`
}

func (DocumentSnapshot) outbound() {}
func (ChangeBroadcast) outbound()  {}
func (TitleBroadcast) outbound()   {}
func (VersionMismatch) outbound()  {}
func (ResyncRequired) outbound()   {}
func (ChangeAccepted) outbound()   {}
func (NoteSaved) outbound()        {}
func (NoteSavedByOther) outbound() {}
func (PresenceRoster) outbound()   {}
func (MemberJoined) outbound()     {}
func (MemberLeft) outbound()       {}
func (TypingIndicator) outbound()  {}
func (CursorBroadcast) outbound()  {}
func (OperationError) outbound()   {}
func (LivenessAck) outbound()      {}
