package refengine

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Scoring constants
const (
	RiskThreshold      = 100
	MaxTravelSpeedKMH  = 1000.0
	SameMomentRadiusKM = 50.0

	PointsIPReputation     = 90
	PointsNewDevice        = 105
	PointsImpossibleTravel = 150
	PointsAtypicalTime     = 30

	atypicalWindow     = 30 * 24 * time.Hour
	atypicalMinLogins  = 5
	atypicalHourSpread = 3
	earthRadiusKM      = 6371.0
)

// Signal names as reported on the wire
const (
	SignalIPReputation     = "ip_reputation"
	SignalNewDevice        = "new_device"
	SignalImpossibleTravel = "impossible_travel"
	SignalAtypicalTime     = "atypical_time"
)

var blacklistedPrefixes = []string{"192.168.99.", "10.0.99."}

type signal struct {
	Flagged bool `json:"flagged"`
	Points  int  `json:"points"`
}

type verdict struct {
	Score   int
	Level   string
	Signals map[string]signal
}

// loginInput is what the rules see of one attempt.
type loginInput struct {
	IP     string
	Device string
	Lat    *float64
	Lon    *float64
}

// assess scores an attempt for user, which may be nil for unknown usernames.
func assess(user *user, in loginInput, now time.Time) verdict {
	v := verdict{Signals: make(map[string]signal, 4)}
	add := func(name string, flagged bool, points int) {
		s := signal{Flagged: flagged}
		if flagged {
			s.Points = points
			v.Score += points
		}
		v.Signals[name] = s
	}

	add(SignalIPReputation, isBlacklisted(in.IP), PointsIPReputation)
	add(SignalNewDevice, isNewDevice(user, in.Device), PointsNewDevice)
	add(SignalImpossibleTravel, isImpossibleTravel(user, in.Lat, in.Lon, now), PointsImpossibleTravel)
	add(SignalAtypicalTime, isAtypicalTime(user, now), PointsAtypicalTime)

	v.Level = "low"
	if v.Score >= RiskThreshold {
		v.Level = "high"
	}
	return v
}

func isBlacklisted(ip string) bool {
	for _, p := range blacklistedPrefixes {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	return false
}

func isNewDevice(u *user, device string) bool {
	if u == nil || device == "" {
		return true
	}
	return !u.trusted[device]
}

func isImpossibleTravel(u *user, lat, lon *float64, now time.Time) bool {
	if u == nil || lat == nil || lon == nil {
		return false
	}
	last := u.lastLocatedLogin()
	if last == nil {
		return false
	}

	dist := haversine(*last.Lat, *last.Lon, *lat, *lon)
	hours := now.Sub(last.At).Hours()
	if hours <= 0 {
		return dist > SameMomentRadiusKM
	}
	return dist/hours > MaxTravelSpeedKMH
}

func isAtypicalTime(u *user, now time.Time) bool {
	if u == nil {
		return false
	}
	cutoff := now.Add(-atypicalWindow)
	var hours []int
	for _, l := range u.logins {
		if l.Success && !l.At.Before(cutoff) {
			hours = append(hours, l.At.UTC().Hour())
		}
	}
	if len(hours) < atypicalMinLogins {
		return false
	}
	sort.Ints(hours)
	median := hours[len(hours)/2]

	diff := now.UTC().Hour() - median
	if diff < 0 {
		diff = -diff
	}
	if 24-diff < diff {
		diff = 24 - diff
	}
	return diff > atypicalHourSpread
}

// haversine returns the great-circle distance in kilometres.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKM * 2 * math.Asin(math.Sqrt(a))
}
