package queue

import (
	"errors"
	"fmt"

	"github.com/petrijr/contentflow/internal/dedup"
)

// ErrDuplicate is matched by every *DuplicateError.
var ErrDuplicate = errors.New("duplicate prompt")

// DuplicateError is the structured refusal returned by Add. Exactly one of
// QueueIndex (>= 0) or Content is set.
type DuplicateError struct {
	Prompt string

	// QueueIndex is the position of the equal entry already queued, or -1.
	QueueIndex int

	// Content is the produced content record that matched.
	Content *dedup.Match
}

func (e *DuplicateError) Error() string {
	if e.Content != nil {
		return fmt.Sprintf("%s: %q matches existing content %q (%s)",
			ErrDuplicate, e.Prompt, e.Content.Record.Title, e.Content.Kind)
	}
	return fmt.Sprintf("%s: %q is already queued at index %d", ErrDuplicate, e.Prompt, e.QueueIndex)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}
