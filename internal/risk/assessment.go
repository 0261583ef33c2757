// Package risk defines the risk assessment contract shared by real logins and
// simulated ones. An Assessment is the client's copy of a verdict issued by the
// remote risk engine; nothing in this package computes a score.
package risk

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"
)

// Level is the engine's coarse risk classification
type Level string

const (
	LevelLow  Level = "low"
	LevelHigh Level = "high"
)

// Valid reports whether l is one of the enumerated levels
func (l Level) Valid() bool {
	return l == LevelLow || l == LevelHigh
}

// Known action labels emitted by the engine's simulation endpoint
const (
	ActionRequireMFA   = "Require MFA"
	ActionPasswordOnly = "Allow password-only"
)

// Signal is one entry of the engine's score breakdown. Display only.
type Signal struct {
	Points  int  `json:"points"`
	Flagged bool `json:"flagged"`
}

// Location is an optional coordinate pair attached to simulated logins
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Assessment is an immutable snapshot of one risk evaluation.
type Assessment struct {
	Score             int
	Threshold         int
	Level             Level
	RequireChallenge  bool
	Signals           map[string]Signal
	IPAddress         string
	DeviceFingerprint string
	Action            string
	Username          string
	Location          *Location
}

// Clone returns a deep copy so callers can never share the signals map.
func (a *Assessment) Clone() *Assessment {
	if a == nil {
		return nil
	}
	c := *a
	if a.Signals != nil {
		c.Signals = make(map[string]Signal, len(a.Signals))
		for k, v := range a.Signals {
			c.Signals[k] = v
		}
	}
	if a.Location != nil {
		loc := *a.Location
		c.Location = &loc
	}
	return &c
}

// Flagged returns the names of flagged signals in sorted order
func (a *Assessment) Flagged() []string {
	var names []string
	for name, s := range a.Signals {
		if s.Flagged {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SignalNames returns all signal names in sorted order
func (a *Assessment) SignalNames() []string {
	names := make([]string, 0, len(a.Signals))
	for name := range a.Signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrInvalidAssessment is wrapped by every ValidationError
var ErrInvalidAssessment = errors.New("invalid risk assessment")

// ValidationError describes why a raw assessment was rejected
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid risk assessment: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidAssessment
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// rawSignal mirrors the wire shape of a signal; pointers detect absence.
type rawSignal struct {
	Points  *int  `mapstructure:"points"`
	Flagged *bool `mapstructure:"flagged"`
}

type rawLocation struct {
	Lat *float64 `mapstructure:"lat"`
	Lon *float64 `mapstructure:"lon"`
}

type rawAssessment struct {
	Score             *int                 `mapstructure:"risk_score"`
	Threshold         *int                 `mapstructure:"threshold"`
	Level             *string              `mapstructure:"risk_level"`
	RequireChallenge  *bool                `mapstructure:"require_otp"`
	Signals           map[string]rawSignal `mapstructure:"signals"`
	IPAddress         string               `mapstructure:"ip_address"`
	DeviceFingerprint string               `mapstructure:"device_fingerprint"`
	Action            string               `mapstructure:"action"`
	Username          string               `mapstructure:"username"`
	Location          *rawLocation         `mapstructure:"location"`
}

// Parse validates a decoded wire object and builds an Assessment. Keys are the
// engine's wire names. Numbers may be json.Number or any Go numeric type but
// must be integral where the contract says integer.
func Parse(raw map[string]any) (*Assessment, error) {
	if raw == nil {
		return nil, invalid("assessment", "missing")
	}

	// Type errors on required fields are reported before mapstructure sees them
	// so the caller gets the field name rather than a decoder message.
	if v, ok := raw["require_otp"]; !ok || v == nil {
		return nil, invalid("require_otp", "missing")
	} else if _, isBool := v.(bool); !isBool {
		return nil, invalid("require_otp", "must be boolean, got %T", v)
	}
	if v, ok := raw["signals"]; ok && v != nil {
		if _, isMap := v.(map[string]any); !isMap {
			return nil, invalid("signals", "must be a mapping, got %T", v)
		}
	}

	var r rawAssessment
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &r,
		WeaklyTypedInput: false,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, invalid("assessment", "%v", err)
	}

	if r.Score == nil {
		return nil, invalid("risk_score", "missing")
	}
	if *r.Score < 0 {
		return nil, invalid("risk_score", "must be non-negative, got %d", *r.Score)
	}
	if r.Threshold == nil {
		return nil, invalid("threshold", "missing")
	}
	if *r.Threshold <= 0 {
		return nil, invalid("threshold", "must be positive, got %d", *r.Threshold)
	}
	if r.Level == nil {
		return nil, invalid("risk_level", "missing")
	}
	level := Level(*r.Level)
	if !level.Valid() {
		return nil, invalid("risk_level", "unknown level %q", *r.Level)
	}
	if *r.RequireChallenge != (level == LevelHigh) {
		return nil, invalid("require_otp", "%t disagrees with risk_level %q", *r.RequireChallenge, level)
	}

	a := &Assessment{
		Score:             *r.Score,
		Threshold:         *r.Threshold,
		Level:             level,
		RequireChallenge:  *r.RequireChallenge,
		IPAddress:         r.IPAddress,
		DeviceFingerprint: r.DeviceFingerprint,
		Action:            r.Action,
		Username:          r.Username,
	}

	if r.Signals != nil {
		a.Signals = make(map[string]Signal, len(r.Signals))
		for name, s := range r.Signals {
			field := "signals." + name
			if s.Points == nil {
				return nil, invalid(field, "points missing")
			}
			if *s.Points < 0 {
				return nil, invalid(field, "points must be non-negative, got %d", *s.Points)
			}
			if s.Flagged == nil {
				return nil, invalid(field, "flagged missing")
			}
			a.Signals[name] = Signal{Points: *s.Points, Flagged: *s.Flagged}
		}
	}

	// The engine reports {"lat": null, "lon": null} when no coordinates were given.
	if r.Location != nil && r.Location.Lat != nil && r.Location.Lon != nil {
		a.Location = &Location{Lat: *r.Location.Lat, Lon: *r.Location.Lon}
	}

	return a, nil
}

// ParseJSON decodes body as a JSON object and validates it with Parse.
func ParseJSON(body []byte) (*Assessment, error) {
	raw, err := DecodeObject(body)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// DecodeObject decodes a JSON object keeping numbers as json.Number so that
// integral checks in Parse are exact.
func DecodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, invalid("assessment", "not a JSON object: %v", err)
	}
	if raw == nil {
		return nil, invalid("assessment", "missing")
	}
	return raw, nil
}
