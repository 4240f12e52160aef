package merge

import (
	"errors"
	"strings"
)

var (
	// ErrBusy rejects a batch while another one runs on the same driver.
	ErrBusy = errors.New("a batch is already in progress")

	// ErrTimeout marks a row whose send exceeded the per-send timeout.
	ErrTimeout = errors.New("send timed out")

	// ErrCancelled marks rows skipped after the batch was cancelled.
	ErrCancelled = errors.New("batch cancelled")

	// ErrNoRecipient marks a row without an email address.
	ErrNoRecipient = errors.New("row has no email address")
)

// ValidationError lists the required batch inputs that were missing.
// Nothing is sent when it is returned.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required " + strings.Join(e.Fields, ", ")
}
