package usecase

import (
	"collabnotes/internal/domain"
	"collabnotes/pkg/patch"
)

// DocState is the authoritative in-memory view of one document's
// collaboration state while its room is live. Version strictly increases by
// one on every accepted commit and Content always corresponds to Version.
type DocState struct {
	DocumentID   string
	Version      int64
	Content      string
	Title        string
	LastEditorID string
}

// Result classifies the outcome of one proposal against the current state.
type Result int

const (
	// Accepted means the proposal committed and Version advanced by one.
	Accepted Result = iota
	// StaleBase means the claimed base version is behind the authoritative
	// one; state is untouched and the proposer must rebase.
	StaleBase
	// PatchRejected means the patch did not apply to the current content;
	// state is untouched and the proposer must resend full text.
	PatchRejected
)

// Engine is the conflict-resolution core. It is deliberately a
// last-writer-wins-with-patch-attempt scheme: the second writer to arrive at
// a stale base is told to catch up and resubmit, no merge of divergent
// intent is attempted. Callers serialize invocations per document.
type Engine struct{}

// NewEngine returns the conflict-resolution core.
func NewEngine() *Engine { return &Engine{} }

// ApplyChange runs one content proposal through version check, payload
// resolution and commit. On Accepted the state has been mutated; on any
// other result it is untouched.
func (e *Engine) ApplyChange(st *DocState, baseVersion int64, payload domain.ChangePayload, editorID string) Result {
	if baseVersion < st.Version {
		return StaleBase
	}

	var newContent string
	switch payload.Kind {
	case domain.PayloadFull:
		newContent = payload.Content
	case domain.PayloadPatch:
		applied, err := patch.Apply(st.Content, payload.Patch)
		if err != nil {
			return PatchRejected
		}
		newContent = applied
	default:
		return PatchRejected
	}

	st.Version++
	st.Content = newContent
	st.LastEditorID = editorID
	return Accepted
}

// ApplyTitle commits a title change. Titles share the single version counter
// with content: one logical document, one version line.
func (e *Engine) ApplyTitle(st *DocState, baseVersion int64, title, editorID string) Result {
	if baseVersion < st.Version {
		return StaleBase
	}
	st.Version++
	st.Title = title
	st.LastEditorID = editorID
	return Accepted
}

// ApplySave commits an explicit save of content and/or title. Nil fields are
// left unchanged. Manual save does not bypass version checking.
func (e *Engine) ApplySave(st *DocState, baseVersion int64, content, title *string, editorID string) Result {
	if baseVersion < st.Version {
		return StaleBase
	}
	st.Version++
	if content != nil {
		st.Content = *content
	}
	if title != nil {
		st.Title = *title
	}
	st.LastEditorID = editorID
	return Accepted
}
