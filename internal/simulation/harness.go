// Package simulation runs hypothetical logins through the risk engine for
// display. Nothing here authenticates anyone.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/willfong/adaptive-auth/internal/engine"
	"github.com/willfong/adaptive-auth/internal/risk"
)

var (
	// ErrUnknownScenario is returned by Find for names not in the catalog.
	ErrUnknownScenario = errors.New("unknown scenario")
	// ErrSeedRejected is returned when the engine refuses to seed history.
	ErrSeedRejected = errors.New("seed rejected by engine")
	// ErrMissingUsername is returned for params without a username.
	ErrMissingUsername = errors.New("username is required")
)

// Params are the inputs of one simulated login
type Params struct {
	Username          string
	DeviceFingerprint string
	IPAddress         string
	Lat               *float64
	Lon               *float64
}

func (p Params) clone() Params {
	c := p
	if p.Lat != nil {
		v := *p.Lat
		c.Lat = &v
	}
	if p.Lon != nil {
		v := *p.Lon
		c.Lon = &v
	}
	return c
}

// Client is the subset of the engine client the harness needs
type Client interface {
	SimulateLogin(ctx context.Context, req engine.SimulateRequest) (*risk.Assessment, error)
	SeedLoginHistory(ctx context.Context, username string) (*engine.SeedResponse, error)
}

// Harness runs simulations against one engine
type Harness struct {
	client Client
	logger *zap.Logger
}

// NewHarness creates a harness
func NewHarness(client Client, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{client: client, logger: logger.Named("simulation")}
}

// RunScenario asks the engine to score p. Running the same params twice
// against unchanged engine state yields the same assessment.
func (h *Harness) RunScenario(ctx context.Context, p Params) (*risk.Assessment, error) {
	if strings.TrimSpace(p.Username) == "" {
		return nil, ErrMissingUsername
	}
	a, err := h.client.SimulateLogin(ctx, engine.SimulateRequest{
		Username:          p.Username,
		DeviceFingerprint: p.DeviceFingerprint,
		IPAddress:         p.IPAddress,
		LocationLat:       p.Lat,
		LocationLon:       p.Lon,
	})
	if err != nil {
		return nil, fmt.Errorf("simulate login for %s: %w", p.Username, err)
	}
	h.logger.Debug("simulation scored",
		zap.String("username", p.Username),
		zap.String("device", p.DeviceFingerprint),
		zap.Int("score", a.Score),
		zap.String("level", string(a.Level)))
	return a, nil
}

// SeedHistory asks the engine to fabricate a normal login history for
// username so that travel and time signals have something to compare against.
func (h *Harness) SeedHistory(ctx context.Context, username string) (*engine.SeedResponse, error) {
	if strings.TrimSpace(username) == "" {
		return nil, ErrMissingUsername
	}
	resp, err := h.client.SeedLoginHistory(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("seed history for %s: %w", username, err)
	}
	if resp.Failed() {
		return resp, fmt.Errorf("%w: %s", ErrSeedRejected, resp.Message)
	}
	h.logger.Info("history seeded", zap.String("username", username), zap.String("message", resp.Message))
	return resp, nil
}
