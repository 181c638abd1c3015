package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabnotes/internal/domain"
	"collabnotes/pkg/patch"
)

func TestApplyChangeFullContent(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 3, Content: "hello"}

	res := e.ApplyChange(st, 3, domain.ChangePayload{Kind: domain.PayloadFull, Content: "hello world"}, "user-1")

	assert.Equal(t, Accepted, res)
	assert.Equal(t, int64(4), st.Version)
	assert.Equal(t, "hello world", st.Content)
	assert.Equal(t, "user-1", st.LastEditorID)
}

func TestApplyChangePatch(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 1, Content: "the quick brown fox"}

	p := patch.Diff("the quick brown fox", "the quick red fox")

	res := e.ApplyChange(st, 1, domain.ChangePayload{Kind: domain.PayloadPatch, Patch: p}, "user-1")

	assert.Equal(t, Accepted, res)
	assert.Equal(t, int64(2), st.Version)
	assert.Equal(t, "the quick red fox", st.Content)
}

func TestApplyChangeStaleBase(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 5, Content: "current"}

	res := e.ApplyChange(st, 4, domain.ChangePayload{Kind: domain.PayloadFull, Content: "stale"}, "user-2")

	assert.Equal(t, StaleBase, res)
	assert.Equal(t, int64(5), st.Version, "rejected proposal must not advance the version")
	assert.Equal(t, "current", st.Content, "rejected proposal must not touch content")
	assert.Empty(t, st.LastEditorID)
}

func TestApplyChangeMalformedPatch(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 2, Content: "abc"}

	res := e.ApplyChange(st, 2, domain.ChangePayload{Kind: domain.PayloadPatch, Patch: "not a patch"}, "user-1")

	assert.Equal(t, PatchRejected, res)
	assert.Equal(t, int64(2), st.Version)
	assert.Equal(t, "abc", st.Content)
}

func TestApplyChangeUnknownPayloadKind(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 2, Content: "abc"}

	res := e.ApplyChange(st, 2, domain.ChangePayload{Kind: "bogus"}, "user-1")

	assert.Equal(t, PatchRejected, res)
	assert.Equal(t, int64(2), st.Version)
}

func TestApplyTitle(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 7, Content: "body", Title: "old"}

	res := e.ApplyTitle(st, 7, "new title", "user-3")

	assert.Equal(t, Accepted, res)
	assert.Equal(t, int64(8), st.Version, "title shares the document version line")
	assert.Equal(t, "new title", st.Title)
	assert.Equal(t, "body", st.Content)
}

func TestApplyTitleStaleBase(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 7, Title: "kept"}

	res := e.ApplyTitle(st, 6, "lost", "user-3")

	assert.Equal(t, StaleBase, res)
	assert.Equal(t, "kept", st.Title)
}

func TestApplySave(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 1, Content: "old", Title: "t"}

	content := "saved content"
	res := e.ApplySave(st, 1, &content, nil, "user-1")

	assert.Equal(t, Accepted, res)
	assert.Equal(t, int64(2), st.Version)
	assert.Equal(t, "saved content", st.Content)
	assert.Equal(t, "t", st.Title, "nil title leaves the stored title alone")
}

func TestApplySaveStaleBase(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 9, Content: "current"}

	content := "stale"
	res := e.ApplySave(st, 3, &content, nil, "user-1")

	assert.Equal(t, StaleBase, res)
	assert.Equal(t, "current", st.Content)
}

func TestSequentialEditsFromRebasedProposals(t *testing.T) {
	e := NewEngine()
	st := &DocState{DocumentID: "doc-1", Version: 0, Content: ""}

	require.Equal(t, Accepted, e.ApplyChange(st, 0, domain.ChangePayload{Kind: domain.PayloadFull, Content: "a"}, "u1"))
	require.Equal(t, StaleBase, e.ApplyChange(st, 0, domain.ChangePayload{Kind: domain.PayloadFull, Content: "b"}, "u2"))

	// u2 rebases on the authoritative state and resubmits.
	require.Equal(t, Accepted, e.ApplyChange(st, st.Version, domain.ChangePayload{Kind: domain.PayloadFull, Content: "ab"}, "u2"))

	assert.Equal(t, int64(2), st.Version)
	assert.Equal(t, "ab", st.Content)
	assert.Equal(t, "u2", st.LastEditorID)
}
