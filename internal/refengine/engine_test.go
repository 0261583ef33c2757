package refengine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willfong/adaptive-auth/internal/engine"
)

func newTestEngine(t *testing.T) (*Engine, *engine.Client) {
	t.Helper()
	e := New(Config{EchoOTP: true})
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)
	return e, engine.NewClient(srv.URL)
}

func TestEngine_RegisterDuplicate(t *testing.T) {
	_, c := newTestEngine(t)
	ctx := context.Background()

	resp, err := c.Register(ctx, engine.RegisterRequest{Username: "alice", Email: "a@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	resp, err = c.Register(ctx, engine.RegisterRequest{Username: "alice", Email: "other@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Username or email already exists", resp.Message)
}

func TestEngine_LowRiskLogin(t *testing.T) {
	e, c := newTestEngine(t)
	require.NoError(t, e.AddUser("alice", "", "pw"))
	require.NoError(t, e.TrustDevice("alice", "laptop"))

	resp, err := c.Login(context.Background(), engine.LoginRequest{Username: "alice", Password: "pw", DeviceFingerprint: "laptop"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.False(t, resp.RequireOTP)
	assert.Empty(t, resp.PendingAuthID)
	require.NotNil(t, resp.RiskScore)
	assert.Equal(t, 0, *resp.RiskScore)

	a, err := resp.Assessment(RiskThreshold, engine.LoginRequest{Username: "alice", DeviceFingerprint: "laptop"})
	require.NoError(t, err)
	assert.Equal(t, "low", string(a.Level))
	assert.Equal(t, RiskThreshold, a.Threshold)
}

func TestEngine_BadPassword(t *testing.T) {
	e, c := newTestEngine(t)
	require.NoError(t, e.AddUser("alice", "", "pw"))

	resp, err := c.Login(context.Background(), engine.LoginRequest{Username: "alice", Password: "nope", DeviceFingerprint: "x"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid credentials", resp.Message)
	assert.Nil(t, resp.RiskScore)
}

func TestEngine_StepUpAndVerify(t *testing.T) {
	e, c := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.AddUser("alice", "", "pw"))

	resp, err := c.Login(ctx, engine.LoginRequest{Username: "alice", Password: "pw", DeviceFingerprint: "phone"})
	require.NoError(t, err)
	require.True(t, resp.RequireOTP)
	require.NotEmpty(t, resp.PendingAuthID)
	assert.Len(t, resp.OTPCode, 6)

	code, ok := e.PendingCode(resp.PendingAuthID.String())
	require.True(t, ok)
	assert.Equal(t, resp.OTPCode, code)

	bad, err := c.VerifyOTP(ctx, engine.VerifyRequest{PendingAuthID: resp.PendingAuthID, OTPCode: "000000x"})
	require.NoError(t, err)
	assert.False(t, bad.Success)
	assert.Equal(t, "Invalid OTP. 2 attempts remaining", bad.Message)

	ok2, err := c.VerifyOTP(ctx, engine.VerifyRequest{PendingAuthID: resp.PendingAuthID, OTPCode: code})
	require.NoError(t, err)
	assert.True(t, ok2.Success)
	require.NotEmpty(t, ok2.AccessToken)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(ok2.AccessToken, claims, func(*jwt.Token) (any, error) { return e.SigningKey(), nil })
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	// Verification trusts the device, so the next login is low risk.
	again, err := c.Login(ctx, engine.LoginRequest{Username: "alice", Password: "pw", DeviceFingerprint: "phone"})
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.False(t, again.RequireOTP)

	used, err := c.VerifyOTP(ctx, engine.VerifyRequest{PendingAuthID: resp.PendingAuthID, OTPCode: code})
	require.NoError(t, err)
	assert.False(t, used.Success)
	assert.Equal(t, "Invalid or expired session", used.Message)
}

func TestEngine_NewStepUpRetiresEarlierOne(t *testing.T) {
	e, c := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.AddUser("alice", "", "pw"))
	req := engine.LoginRequest{Username: "alice", Password: "pw", DeviceFingerprint: "phone"}

	first, err := c.Login(ctx, req)
	require.NoError(t, err)
	require.True(t, first.RequireOTP)
	second, err := c.Login(ctx, req)
	require.NoError(t, err)
	require.True(t, second.RequireOTP)
	require.NotEqual(t, first.PendingAuthID, second.PendingAuthID)

	old, err := c.VerifyOTP(ctx, engine.VerifyRequest{PendingAuthID: first.PendingAuthID, OTPCode: first.OTPCode})
	require.NoError(t, err)
	assert.False(t, old.Success)
	assert.Equal(t, "Invalid or expired session", old.Message)

	latest, err := c.VerifyOTP(ctx, engine.VerifyRequest{PendingAuthID: second.PendingAuthID, OTPCode: second.OTPCode})
	require.NoError(t, err)
	assert.True(t, latest.Success)
}

func TestEngine_VerifyLimits(t *testing.T) {
	e, c := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.AddUser("alice", "", "pw"))
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	e.SetNow(func() time.Time { return now })

	resp, err := c.Login(ctx, engine.LoginRequest{Username: "alice", Password: "pw", DeviceFingerprint: "phone"})
	require.NoError(t, err)
	for i := 0; i < MaxOTPAttempts; i++ {
		_, err := c.VerifyOTP(ctx, engine.VerifyRequest{PendingAuthID: resp.PendingAuthID, OTPCode: "bad"})
		require.NoError(t, err)
	}
	locked, err := c.VerifyOTP(ctx, engine.VerifyRequest{PendingAuthID: resp.PendingAuthID, OTPCode: resp.OTPCode})
	require.NoError(t, err)
	assert.Equal(t, "Too many attempts", locked.Message)

	second, err := c.Login(ctx, engine.LoginRequest{Username: "alice", Password: "pw", DeviceFingerprint: "phone"})
	require.NoError(t, err)
	e.SetNow(func() time.Time { return now.Add(OTPTTL + time.Second) })
	expired, err := c.VerifyOTP(ctx, engine.VerifyRequest{PendingAuthID: second.PendingAuthID, OTPCode: second.OTPCode})
	require.NoError(t, err)
	assert.Equal(t, "OTP expired", expired.Message)
}

func TestEngine_EchoDisabled(t *testing.T) {
	e, c := newTestEngine(t)
	e.SetEchoOTP(false)
	require.NoError(t, e.AddUser("alice", "", "pw"))

	resp, err := c.Login(context.Background(), engine.LoginRequest{Username: "alice", Password: "pw", DeviceFingerprint: "phone"})
	require.NoError(t, err)
	assert.True(t, resp.RequireOTP)
	assert.Empty(t, resp.OTPCode)
}

func TestEngine_SimulateAndSeed(t *testing.T) {
	e, c := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.AddUser("testuser", "", "pw"))

	missing, err := c.SeedLoginHistory(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, missing.Failed())
	assert.Equal(t, "User not found", missing.Message)

	seeded, err := c.SeedLoginHistory(ctx, "testuser")
	require.NoError(t, err)
	assert.False(t, seeded.Failed())
	assert.Equal(t, HomeDevice, seeded.TrustedDevice)
	assert.Equal(t, HomeLocation, seeded.Location)

	a, err := c.SimulateLogin(ctx, engine.SimulateRequest{Username: "testuser", DeviceFingerprint: HomeDevice, IPAddress: HomeIP})
	require.NoError(t, err)
	assert.Equal(t, "low", string(a.Level))
	assert.False(t, a.RequireChallenge)
	assert.Equal(t, "Allow password-only", a.Action)

	lat, lon := 55.7558, 37.6173
	a, err = c.SimulateLogin(ctx, engine.SimulateRequest{Username: "testuser", DeviceFingerprint: "foreign-device",
		IPAddress: "192.168.99.1", LocationLat: &lat, LocationLon: &lon})
	require.NoError(t, err)
	assert.Equal(t, "high", string(a.Level))
	assert.True(t, a.RequireChallenge)
	assert.True(t, a.Signals[SignalImpossibleTravel].Flagged)
	require.NotNil(t, a.Location)
	assert.InDelta(t, lat, a.Location.Lat, 1e-9)
}

func TestEngine_Faults(t *testing.T) {
	e, c := newTestEngine(t)
	e.Faults().Stub(engine.PathRegister, http.StatusServiceUnavailable, `{"detail": "maintenance"}`)

	_, err := c.Register(context.Background(), engine.RegisterRequest{Username: "a", Password: "b"})
	var remote *engine.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusServiceUnavailable, remote.StatusCode)
	assert.Equal(t, "maintenance", remote.Message)
	assert.Equal(t, 1, e.Faults().Calls(engine.PathRegister))

	e.Faults().Clear()
	gate := e.Faults().Block(engine.PathRegister)
	done := make(chan error, 1)
	go func() {
		_, err := c.Register(context.Background(), engine.RegisterRequest{Username: "a", Password: "b"})
		done <- err
	}()
	<-gate.Entered()
	select {
	case <-done:
		t.Fatal("request completed while gated")
	default:
	}
	gate.Release()
	require.NoError(t, <-done)
}

func TestEngine_Metrics(t *testing.T) {
	e := New(Config{})
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	_, err := engine.NewClient(srv.URL).SimulateLogin(context.Background(), engine.SimulateRequest{Username: "x"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `refengine_verdicts_total{endpoint="simulate",level="high"} 1`))
	assert.True(t, strings.Contains(string(body), `refengine_requests_total{code="200",path="/demo/simulate-login"} 1`))
}
