// Package challenge tracks the single outstanding OTP step-up challenge of a
// session. Identifiers are minted by the risk engine; the manager only records
// which one is live and makes sure a superseded or retired one is never
// treated as live again.
package challenge

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrEmptyID is returned when the engine handed out a blank challenge id.
	ErrEmptyID = errors.New("challenge id is empty")
	// ErrChallengeLive is returned by Issue when a challenge is already outstanding.
	ErrChallengeLive = errors.New("a challenge is already pending")
	// ErrStaleChallenge is returned when a reference no longer names the live challenge.
	ErrStaleChallenge = errors.New("challenge is no longer live")
)

// Challenge is one outstanding step-up attempt.
type Challenge struct {
	ID string
	// IssuedAt is the manager's logical clock at issuance; strictly increasing.
	IssuedAt uint64
	// IssuedWall is informational only.
	IssuedWall time.Time
}

// Manager owns creation, replacement and destruction of challenges.
type Manager struct {
	mu    sync.Mutex
	live  *Challenge
	clock uint64
	now   func() time.Time
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

func (m *Manager) mint(id string) *Challenge {
	m.clock++
	return &Challenge{ID: id, IssuedAt: m.clock, IssuedWall: m.now()}
}

// Issue installs a new challenge. At most one may be live.
func (m *Manager) Issue(id string) (*Challenge, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live != nil {
		return nil, ErrChallengeLive
	}
	m.live = m.mint(id)
	return m.live, nil
}

// Supersede replaces old with a challenge for newID. old must be the live
// challenge; afterwards it is permanently invalid.
func (m *Manager) Supersede(old *Challenge, newID string) (*Challenge, error) {
	if newID == "" {
		return nil, ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if old == nil || m.live != old {
		return nil, ErrStaleChallenge
	}
	m.live = m.mint(newID)
	return m.live, nil
}

// Retire destroys ch. Retiring a challenge that is not live is an error.
func (m *Manager) Retire(ch *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch == nil || m.live != ch {
		return ErrStaleChallenge
	}
	m.live = nil
	return nil
}

// Current returns the live challenge, or nil.
func (m *Manager) Current() *Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// IsLive reports whether ch is the live challenge.
func (m *Manager) IsLive(ch *Challenge) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ch != nil && m.live == ch
}

// Reset drops whatever is live. Used on logout and back-navigation.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.live = nil
	m.mu.Unlock()
}
