package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/willfong/adaptive-auth/internal/risk"
)

// Endpoint paths of the risk engine
const (
	PathLogin            = "/auth/login"
	PathVerifyOTP        = "/auth/verify-otp"
	PathRegister         = "/auth/register"
	PathSimulateLogin    = "/demo/simulate-login"
	PathSeedLoginHistory = "/demo/seed-login-history"
)

// PendingID is the opaque token correlating a step-up login with its later
// verification. The reference engine issues integers, others may issue
// strings; both are accepted and numeric ids go back out as JSON numbers.
type PendingID string

// UnmarshalJSON accepts a JSON string, number or null.
func (p *PendingID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*p = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = PendingID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("pending_auth_id: %w", err)
		}
		*p = PendingID(n.String())
	}
	return nil
}

// MarshalJSON emits integral ids as numbers and everything else as strings.
func (p PendingID) MarshalJSON() ([]byte, error) {
	if p.numeric() {
		return []byte(p), nil
	}
	return json.Marshal(string(p))
}

func (p PendingID) numeric() bool {
	if p == "" {
		return false
	}
	_, err := strconv.ParseInt(string(p), 10, 64)
	return err == nil
}

// String returns the id as text
func (p PendingID) String() string {
	return string(p)
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// LoginResponse is the engine's reply to a login. Risk fields are optional on
// the wire; Assessment validates them against the contract.
type LoginResponse struct {
	Success       bool      `json:"success"`
	RequireOTP    bool      `json:"require_otp"`
	PendingAuthID PendingID `json:"pending_auth_id,omitempty"`
	Message       string    `json:"message,omitempty"`
	RiskScore     *int      `json:"risk_score,omitempty"`
	RiskLevel     string    `json:"risk_level,omitempty"`
	// OTPCode is a demo-only echo of the issued passcode.
	OTPCode string `json:"otp_code,omitempty"`

	raw map[string]any
}

// Assessment builds the risk contract view of this login. The login endpoint
// does not report its threshold, so the caller supplies the documented one.
// The request's username and fingerprint are attached for display.
func (r *LoginResponse) Assessment(defaultThreshold int, req LoginRequest) (*risk.Assessment, error) {
	raw := make(map[string]any, len(r.raw)+3)
	for k, v := range r.raw {
		raw[k] = v
	}
	if _, ok := raw["threshold"]; !ok {
		raw["threshold"] = defaultThreshold
	}
	if _, ok := raw["username"]; !ok {
		raw["username"] = req.Username
	}
	if _, ok := raw["device_fingerprint"]; !ok {
		raw["device_fingerprint"] = req.DeviceFingerprint
	}
	return risk.Parse(raw)
}

// VerifyRequest is the body of POST /auth/verify-otp
type VerifyRequest struct {
	PendingAuthID PendingID `json:"pending_auth_id"`
	OTPCode       string    `json:"otp_code"`
}

// VerifyResponse carries no risk data.
type VerifyResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is the engine's reply to a registration
type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SimulateRequest is sent as query parameters to POST /demo/simulate-login
type SimulateRequest struct {
	Username          string
	DeviceFingerprint string
	IPAddress         string
	LocationLat       *float64
	LocationLon       *float64
}

// SeedResponse is the engine's reply to POST /demo/seed-login-history.
// Success is absent from some engine versions.
type SeedResponse struct {
	Success       *bool  `json:"success,omitempty"`
	Message       string `json:"message"`
	TrustedDevice string `json:"trusted_device,omitempty"`
	Location      string `json:"location,omitempty"`
}

// Failed reports an explicit success:false
func (r *SeedResponse) Failed() bool {
	return r.Success != nil && !*r.Success
}
