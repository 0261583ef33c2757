package simulation

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willfong/adaptive-auth/internal/engine"
	"github.com/willfong/adaptive-auth/internal/refengine"
	"github.com/willfong/adaptive-auth/internal/risk"
)

func newHarness(t *testing.T) (*refengine.Engine, *Harness) {
	t.Helper()
	e := refengine.New(refengine.Config{})
	noon := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	e.SetNow(func() time.Time { return noon })
	require.NoError(t, e.AddUser(DemoUser, "test@example.com", "password123"))

	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)
	return e, NewHarness(engine.NewClient(srv.URL), nil)
}

func TestHarness_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		level   risk.Level
		action  string
		flagged []string
		clear   []string
	}{
		{"trusted", risk.LevelLow, risk.ActionPasswordOnly, nil,
			[]string{refengine.SignalIPReputation, refengine.SignalNewDevice, refengine.SignalImpossibleTravel}},
		{"new-device", risk.LevelHigh, risk.ActionRequireMFA,
			[]string{refengine.SignalNewDevice}, []string{refengine.SignalIPReputation}},
		{"blacklisted-ip", risk.LevelHigh, risk.ActionRequireMFA,
			[]string{refengine.SignalIPReputation, refengine.SignalNewDevice}, nil},
		{"impossible-travel", risk.LevelHigh, risk.ActionRequireMFA,
			[]string{refengine.SignalImpossibleTravel, refengine.SignalIPReputation, refengine.SignalNewDevice}, nil},
	}

	_, h := newHarness(t)
	ctx := context.Background()
	_, err := h.SeedHistory(ctx, DemoUser)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Find(tt.name)
			require.NoError(t, err)

			a, err := h.RunScenario(ctx, s.Params)
			require.NoError(t, err)
			assert.Equal(t, tt.level, a.Level)
			assert.Equal(t, tt.action, a.Action)
			assert.Equal(t, tt.level == risk.LevelHigh, a.RequireChallenge)
			for _, name := range tt.flagged {
				assert.True(t, a.Signals[name].Flagged, name)
			}
			for _, name := range tt.clear {
				assert.False(t, a.Signals[name].Flagged, name)
			}
			assert.Len(t, a.Signals, 4)
			assert.Equal(t, refengine.RiskThreshold, a.Threshold)
		})
	}
}

func TestHarness_RepeatableWithoutStateChange(t *testing.T) {
	_, h := newHarness(t)
	ctx := context.Background()
	p := Lookup("blacklisted-ip").Params

	first, err := h.RunScenario(ctx, p)
	require.NoError(t, err)
	second, err := h.RunScenario(ctx, p)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Level, second.Level)
	assert.Equal(t, first.Signals, second.Signals)
	assert.Equal(t, refengine.PointsIPReputation+refengine.PointsNewDevice, first.Score)
}

func TestHarness_DefaultsFilledByEngine(t *testing.T) {
	_, h := newHarness(t)

	a, err := h.RunScenario(context.Background(), Params{Username: DemoUser})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", a.IPAddress)
	assert.Equal(t, "demo-device", a.DeviceFingerprint)
	assert.Nil(t, a.Location)
}

func TestHarness_MissingUsername(t *testing.T) {
	_, h := newHarness(t)

	_, err := h.RunScenario(context.Background(), Params{DeviceFingerprint: "x"})
	assert.ErrorIs(t, err, ErrMissingUsername)
	_, err = h.SeedHistory(context.Background(), " ")
	assert.ErrorIs(t, err, ErrMissingUsername)
}

func TestHarness_SeedUnknownUser(t *testing.T) {
	_, h := newHarness(t)

	resp, err := h.SeedHistory(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrSeedRejected)
	require.NotNil(t, resp)
	assert.Equal(t, "User not found", resp.Message)
}

func TestHarness_SeedReportsHome(t *testing.T) {
	_, h := newHarness(t)

	resp, err := h.SeedHistory(context.Background(), DemoUser)
	require.NoError(t, err)
	assert.Equal(t, refengine.HomeDevice, resp.TrustedDevice)
	assert.Equal(t, refengine.HomeLocation, resp.Location)
	assert.Contains(t, resp.Message, "Seeded 11 login attempts")
}

func TestHarness_EngineFailure(t *testing.T) {
	e, h := newHarness(t)
	e.Faults().Stub(engine.PathSimulateLogin, 500, `{"detail":"boom"}`)

	_, err := h.RunScenario(context.Background(), Lookup("trusted").Params)
	require.Error(t, err)
	var remote *engine.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)
}

func TestCatalog(t *testing.T) {
	all := Scenarios()
	require.Len(t, all, 4)
	assert.Equal(t, "trusted", all[0].Name)

	s := Lookup("impossible-travel")
	require.NotNil(t, s.Params.Lat)
	*s.Params.Lat = 0
	assert.InDelta(t, 55.7558, *Lookup("impossible-travel").Params.Lat, 1e-9)

	assert.Empty(t, Lookup("nope").Name)
	_, err := Find("nope")
	assert.ErrorIs(t, err, ErrUnknownScenario)
}
