package simulation

import (
	"fmt"
	"sort"
)

// DemoUser is the account the built-in scenarios run against.
const DemoUser = "testuser"

// Scenario is a named, fixed set of simulation parameters
type Scenario struct {
	Name        string
	Title       string
	Description string
	Params      Params
	// NeedsHistory is set when the scenario only shows its effect after
	// SeedHistory has run for the user.
	NeedsHistory bool
}

func coord(v float64) *float64 { return &v }

var catalog = map[string]Scenario{
	"trusted": {
		Name:        "trusted",
		Title:       "Trusted login",
		Description: "Known device from the home network",
		Params: Params{
			Username:          DemoUser,
			DeviceFingerprint: "home-macbook-pro",
			IPAddress:         "192.168.1.100",
		},
		NeedsHistory: true,
	},
	"new-device": {
		Name:        "new-device",
		Title:       "New device",
		Description: "Unrecognized device from the home network",
		Params: Params{
			Username:          DemoUser,
			DeviceFingerprint: "brand-new-iphone-xyz",
			IPAddress:         "192.168.1.100",
		},
	},
	"blacklisted-ip": {
		Name:        "blacklisted-ip",
		Title:       "Blacklisted IP",
		Description: "Unknown device from an address on the blocklist",
		Params: Params{
			Username:          DemoUser,
			DeviceFingerprint: "suspicious-device",
			IPAddress:         "192.168.99.1",
		},
	},
	"impossible-travel": {
		Name:        "impossible-travel",
		Title:       "Impossible travel",
		Description: "Moscow login minutes after one from Milwaukee",
		Params: Params{
			Username:          DemoUser,
			DeviceFingerprint: "foreign-device",
			IPAddress:         "192.168.99.1",
			Lat:               coord(55.7558),
			Lon:               coord(37.6173),
		},
		NeedsHistory: true,
	},
}

// order is the display order of the catalog
var order = []string{"trusted", "new-device", "blacklisted-ip", "impossible-travel"}

// Scenarios returns the built-in catalog in display order.
func Scenarios() []Scenario {
	out := make([]Scenario, 0, len(order))
	for _, name := range order {
		out = append(out, Lookup(name))
	}
	return out
}

// Lookup returns the named scenario, or the zero Scenario if unknown.
func Lookup(name string) Scenario {
	s, ok := catalog[name]
	if !ok {
		return Scenario{}
	}
	s.Params = s.Params.clone()
	return s
}

// Find is Lookup with an error listing the valid names.
func Find(name string) (Scenario, error) {
	s := Lookup(name)
	if s.Name == "" {
		names := make([]string, 0, len(catalog))
		for n := range catalog {
			names = append(names, n)
		}
		sort.Strings(names)
		return Scenario{}, fmt.Errorf("%w: %q (choose from %v)", ErrUnknownScenario, name, names)
	}
	return s, nil
}
