package refengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr(f float64) *float64 { return &f }

func TestHaversine(t *testing.T) {
	// Milwaukee to Moscow is roughly 7,900 km.
	d := haversine(HomeLat, HomeLon, 55.7558, 37.6173)
	assert.InDelta(t, 7900, d, 50)
	assert.InDelta(t, 0, haversine(HomeLat, HomeLon, HomeLat, HomeLon), 1e-9)
}

func TestIsBlacklisted(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"192.168.99.1", true},
		{"10.0.99.200", true},
		{"192.168.1.100", false},
		{"127.0.0.1", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isBlacklisted(tt.ip); got != tt.want {
			t.Errorf("isBlacklisted(%q): expected %v, got %v", tt.ip, tt.want, got)
		}
	}
}

func TestAssess_UnknownUser(t *testing.T) {
	v := assess(nil, loginInput{IP: "127.0.0.1", Device: "x"}, time.Now())
	assert.Equal(t, PointsNewDevice, v.Score)
	assert.Equal(t, "high", v.Level)
	assert.True(t, v.Signals[SignalNewDevice].Flagged)
	assert.False(t, v.Signals[SignalImpossibleTravel].Flagged)
	assert.Len(t, v.Signals, 4)
}

func TestAssess_SeededScenarios(t *testing.T) {
	now := time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)
	s := newStore()
	if err := s.addUser("testuser", "t@example.com", "pw"); err != nil {
		t.Fatalf("addUser: %v", err)
	}
	u := s.users["testuser"]
	s.seed(u, now)

	trusted := assess(u, loginInput{IP: HomeIP, Device: HomeDevice}, now)
	assert.Equal(t, "low", trusted.Level)
	assert.False(t, trusted.Signals[SignalNewDevice].Flagged)

	newDevice := assess(u, loginInput{IP: HomeIP, Device: "brand-new-iphone-xyz"}, now)
	assert.Equal(t, "high", newDevice.Level)
	assert.Equal(t, PointsNewDevice, newDevice.Signals[SignalNewDevice].Points)

	travel := assess(u, loginInput{IP: "192.168.99.1", Device: "foreign-device",
		Lat: ptr(55.7558), Lon: ptr(37.6173)}, now)
	assert.True(t, travel.Signals[SignalImpossibleTravel].Flagged)
	assert.True(t, travel.Signals[SignalIPReputation].Flagged)
	assert.GreaterOrEqual(t, travel.Score, PointsIPReputation+PointsNewDevice+PointsImpossibleTravel)
}

func TestIsImpossibleTravel_SameMoment(t *testing.T) {
	now := time.Now()
	lat, lon := HomeLat, HomeLon
	u := &user{trusted: map[string]bool{}, logins: []loginRecord{
		{At: now, Lat: &lat, Lon: &lon, Success: true},
	}}
	assert.False(t, isImpossibleTravel(u, ptr(HomeLat), ptr(HomeLon), now))
	assert.True(t, isImpossibleTravel(u, ptr(HomeLat+1), ptr(HomeLon), now))
	assert.False(t, isImpossibleTravel(u, nil, ptr(HomeLon), now))
}

func TestIsAtypicalTime(t *testing.T) {
	base := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	u := &user{trusted: map[string]bool{}}
	for i := 0; i < 4; i++ {
		u.logins = append(u.logins, loginRecord{At: base.Add(-time.Duration(i) * 24 * time.Hour), Success: true})
	}
	night := time.Date(2026, 10, 16, 22, 0, 0, 0, time.UTC)
	assert.False(t, isAtypicalTime(u, night), "four logins is not enough history")

	u.logins = append(u.logins, loginRecord{At: base.Add(-96 * time.Hour), Success: true})
	assert.True(t, isAtypicalTime(u, night))
	assert.False(t, isAtypicalTime(u, base.Add(2*time.Hour)))
	// 23:00 against a 01:00 median wraps to two hours.
	w := &user{trusted: map[string]bool{}}
	for i := 0; i < 5; i++ {
		w.logins = append(w.logins, loginRecord{At: time.Date(2026, 10, 10+i, 1, 0, 0, 0, time.UTC), Success: true})
	}
	assert.False(t, isAtypicalTime(w, time.Date(2026, 10, 16, 23, 0, 0, 0, time.UTC)))
}
