// Package auth drives a single risk-adaptive login session.
//
// FILE: session.go
// PURPOSE: Session state machine types and the read-only views handed to callers.
//
// KEY TYPES:
// - State: Unauthenticated, AwaitingChallenge, Authenticated, SimulationDisplay
// - Snapshot: copy of the session at one instant
// - Outcome: result of one controller operation
//
// RELATED FILES:
// - controller.go: operations and transitions
// - errors.go: failure kinds and classification
// - metrics.go: prometheus instrumentation
package auth

import (
	"time"

	"github.com/willfong/adaptive-auth/internal/challenge"
	"github.com/willfong/adaptive-auth/internal/engine"
	"github.com/willfong/adaptive-auth/internal/risk"
)

// State is the session's position in the login flow
type State int

const (
	StateUnauthenticated State = iota
	StateAwaitingChallenge
	StateAuthenticated
	StateSimulationDisplay
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "Unauthenticated"
	case StateAwaitingChallenge:
		return "AwaitingChallenge"
	case StateAuthenticated:
		return "Authenticated"
	case StateSimulationDisplay:
		return "SimulationDisplay"
	default:
		return "Unknown"
	}
}

// Op names a controller operation in errors, metrics and audit records
type Op string

const (
	OpLogin    Op = "login"
	OpVerify   Op = "verify"
	OpResend   Op = "resend"
	OpRegister Op = "register"
	OpSimulate Op = "simulate"
	OpLogout   Op = "logout"
	OpCancel   Op = "cancel"
	OpDismiss  Op = "dismiss"
)

// TokenInfo is what the client can read from an access token without
// verifying it. Display only.
type TokenInfo struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Snapshot is a copy of the session. Mutating it has no effect on the controller.
type Snapshot struct {
	State              State
	Identity           string
	PendingChallengeID string
	ChallengeIssuedAt  time.Time
	LastAssessment     *risk.Assessment
	AccessToken        string
	Token              *TokenInfo
	Generation         uint64
	// InFlight names the outstanding operation, empty when idle.
	InFlight Op
}

// Outcome reports the result of an operation that did not fail.
type Outcome struct {
	State State
	// Message is the engine's text, if any.
	Message    string
	Assessment *risk.Assessment
	// DemoOTP is the engine's passcode echo, set only when demo display is enabled.
	DemoOTP string
	// Discarded is true when the session moved on while the request was out;
	// nothing was applied.
	Discarded bool
}

type flight struct {
	op  Op
	gen uint64
}

// session is the mutable state behind a Controller. Guarded by Controller.mu.
type session struct {
	state          State
	identity       string
	challenge      *challenge.Challenge
	lastAssessment *risk.Assessment
	accessToken    string
	token          *TokenInfo
	// credentials are held only while AwaitingChallenge, for resend.
	credentials *engine.LoginRequest
	generation  uint64
	inflight    *flight
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		State:          s.state,
		Identity:       s.identity,
		LastAssessment: s.lastAssessment.Clone(),
		AccessToken:    s.accessToken,
		Generation:     s.generation,
	}
	if s.challenge != nil {
		snap.PendingChallengeID = s.challenge.ID
		snap.ChallengeIssuedAt = s.challenge.IssuedWall
	}
	if s.token != nil {
		t := *s.token
		snap.Token = &t
	}
	if s.inflight != nil {
		snap.InFlight = s.inflight.op
	}
	return snap
}

// clear returns the session to Unauthenticated and invalidates anything in flight.
func (s *session) clear() {
	s.state = StateUnauthenticated
	s.identity = ""
	s.challenge = nil
	s.lastAssessment = nil
	s.accessToken = ""
	s.token = nil
	s.credentials = nil
	s.inflight = nil
	s.generation++
}
