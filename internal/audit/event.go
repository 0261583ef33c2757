// Package audit records what the session controller did: one event per
// operation, written asynchronously in batches to a Sink.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Outcome represents the result of the operation
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeDiscarded Outcome = "discarded"
)

// Event is one audit trail entry
type Event struct {
	ID          string    `db:"id" json:"id"`
	Time        time.Time `db:"occurred_at" json:"time"`
	Operation   string    `db:"operation" json:"operation"`
	Username    string    `db:"username" json:"username,omitempty"`
	Fingerprint string    `db:"device_fingerprint" json:"device_fingerprint,omitempty"`
	Outcome     Outcome   `db:"outcome" json:"outcome"`
	FromState   string    `db:"from_state" json:"from_state"`
	ToState     string    `db:"to_state" json:"to_state"`
	RiskScore   *int      `db:"risk_score" json:"risk_score,omitempty"`
	RiskLevel   string    `db:"risk_level" json:"risk_level,omitempty"`
	ErrorKind   string    `db:"error_kind" json:"error_kind,omitempty"`
	Message     string    `db:"message" json:"message,omitempty"`
	Generation  uint64    `db:"generation" json:"generation"`
}

// stamp fills the id and time when the producer left them empty.
func (e *Event) stamp(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = now
	}
}
