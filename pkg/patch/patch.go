// Package patch computes and applies textual diffs between two full-text
// snapshots in the diff-match-patch wire format.
package patch

import (
	"errors"
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrInvalid means a patch does not cleanly apply to the given base text,
// e.g. because its context no longer matches. Callers must fall back to a
// full-content resync, never treat the partial result as applied.
var ErrInvalid = errors.New("patch does not apply")

var dmp = diffmatchpatch.New()

// Diff encodes the difference between old and new as patch text. Applying
// the result to old yields new exactly.
func Diff(old, new string) string {
	patches := dmp.PatchMake(old, new)
	return dmp.PatchToText(patches)
}

// Apply applies patch text to base and returns the patched text. It is
// deterministic and fails cleanly with ErrInvalid when any hunk cannot be
// placed; base is never partially applied into the success path.
func Apply(base, patchText string) (string, error) {
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	result, applied := dmp.PatchApply(patches, base)
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("%w: hunk %d context mismatch", ErrInvalid, i)
		}
	}
	return result, nil
}
