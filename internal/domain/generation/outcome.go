package generation

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusNeedsCredits Status = "needs_credits"
	StatusSkipped      Status = "skipped"
	StatusNeedsAuth    Status = "needs_auth"
)

func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// Outcome is the terminal result of one slot attempt.
type Outcome struct {
	Index   int           `json:"index"`
	Status  Status        `json:"status"`
	Text    string        `json:"text,omitempty"`
	Elapsed time.Duration `json:"-"`
	Reason  string        `json:"reason,omitempty"`
	// Remaining is the balance observed by this slot's debit, when one happened.
	Remaining *int64 `json:"remaining,omitempty"`
}

// Input is what the remote generator receives for one slot.
type Input struct {
	Prompt    string
	Style     string
	Model     string
	Variation int
	Index     int
}

var (
	ErrRequestNotFound = errors.New("generation: request not found")
	ErrSlotNotFound    = errors.New("generation: slot not found")
	ErrInvalidRequest  = errors.New("generation: invalid request")
)
