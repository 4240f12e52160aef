package merge

import (
	"fmt"
	"strings"
)

// Status is the outcome of one row.
type Status string

const (
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Outcome records what happened to one row.
type Outcome struct {
	Row       int    `json:"row"`
	Email     string `json:"email"`
	Status    Status `json:"status"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`

	Err error `json:"-"`
}

// Result is the per-row record of one batch, in row order.
type Result struct {
	BatchID  string    `json:"batchId"`
	Outcomes []Outcome `json:"perRow"`
	Warnings []string  `json:"warnings,omitempty"`
}

func (r *Result) count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Sent returns the number of rows handed to the transport.
func (r *Result) Sent() int { return r.count(StatusSent) }

// Failed returns the number of rows that failed.
func (r *Result) Failed() int { return r.count(StatusFailed) }

// Cancelled returns the number of rows skipped by cancellation.
func (r *Result) Cancelled() int { return r.count(StatusCancelled) }

// Summary is a one-line account of the batch.
func (r *Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d sent, %d failed", r.Sent(), r.Failed())
	if n := r.Cancelled(); n > 0 {
		fmt.Fprintf(&b, ", %d cancelled", n)
	}
	return b.String()
}
