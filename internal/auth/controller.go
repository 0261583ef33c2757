package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/willfong/adaptive-auth/internal/audit"
	"github.com/willfong/adaptive-auth/internal/challenge"
	"github.com/willfong/adaptive-auth/internal/engine"
	"github.com/willfong/adaptive-auth/internal/risk"
	"github.com/willfong/adaptive-auth/internal/simulation"
)

// DefaultThreshold is used when the engine's login answer omits its threshold.
const DefaultThreshold = 100

// Engine is the subset of the risk engine client the controller needs.
type Engine interface {
	Login(ctx context.Context, req engine.LoginRequest) (*engine.LoginResponse, error)
	VerifyOTP(ctx context.Context, req engine.VerifyRequest) (*engine.VerifyResponse, error)
	Register(ctx context.Context, req engine.RegisterRequest) (*engine.RegisterResponse, error)
}

// Simulator produces assessments for hypothetical logins.
type Simulator interface {
	RunScenario(ctx context.Context, p simulation.Params) (*risk.Assessment, error)
}

// Recorder receives one audit event per operation. Implementations must not block.
type Recorder interface {
	Record(e audit.Event)
}

// Option configures a Controller
type Option func(*Controller)

// WithSimulator enables Simulate.
func WithSimulator(s Simulator) Option {
	return func(c *Controller) { c.simulator = s }
}

// WithRecorder attaches an audit sink.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the controller's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l.Named("auth")
		}
	}
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithThreshold sets the threshold attached to login assessments.
func WithThreshold(t int) Option {
	return func(c *Controller) {
		if t > 0 {
			c.threshold = t
		}
	}
}

// WithDemoOTP surfaces the engine's passcode echo in outcomes.
func WithDemoOTP(show bool) Option {
	return func(c *Controller) { c.showOTP = show }
}

// WithResendInterval sets the minimum time between challenge issuances.
// Zero disables the cooldown.
func WithResendInterval(d time.Duration) Option {
	return func(c *Controller) { c.resendInterval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns one authentication session. All methods are safe for
// concurrent use; at most one engine request is outstanding at a time.
type Controller struct {
	engine     Engine
	simulator  Simulator
	recorder   Recorder
	challenges *challenge.Manager
	metrics    *Metrics
	logger     *zap.Logger

	threshold      int
	showOTP        bool
	resendInterval time.Duration
	resendLimiter  *rate.Limiter
	now            func() time.Time

	mu sync.Mutex
	s  session
}

// New creates a controller in the Unauthenticated state.
func New(e Engine, opts ...Option) *Controller {
	c := &Controller{
		engine:     e,
		challenges: challenge.NewManager(),
		logger:     zap.NewNop(),
		threshold:  DefaultThreshold,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.snapshot()
}

// SubmitCredentials sends one login request and moves to AwaitingChallenge
// or Authenticated depending on the engine's verdict.
func (c *Controller) SubmitCredentials(ctx context.Context, username, password, fingerprint string) (Outcome, error) {
	const op = OpLogin
	start := c.now()
	if strings.TrimSpace(username) == "" || password == "" {
		return c.reject(op, start, &Error{Op: op, Kind: KindValidation,
			Message: "Username and password are required", Err: ErrMissingInput})
	}

	f, aerr := c.begin(op, nil, StateUnauthenticated)
	if aerr != nil {
		return c.reject(op, start, aerr)
	}

	req := engine.LoginRequest{Username: username, Password: password, DeviceFingerprint: fingerprint}
	resp, err := c.engine.Login(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(f) {
		return c.discard(op, start)
	}
	defer c.release(f)
	from := c.s.state

	if err != nil {
		return c.fail(op, start, from, wrapEngineError(op, err))
	}
	if !resp.RequireOTP && !resp.Success {
		return c.fail(op, start, from, rejection(op, resp.Message))
	}

	a, err := resp.Assessment(c.threshold, req)
	if err != nil {
		return c.fail(op, start, from, validation(op, err))
	}

	if a.RequireChallenge {
		ch, err := c.challenges.Issue(resp.PendingAuthID.String())
		if err != nil {
			return c.fail(op, start, from, validation(op, err))
		}
		c.s.state = StateAwaitingChallenge
		c.s.identity = username
		c.s.challenge = ch
		c.s.lastAssessment = a
		c.s.credentials = &req
		c.startCooldown()
	} else {
		c.s.state = StateAuthenticated
		c.s.identity = username
		c.s.lastAssessment = a
	}

	out := c.outcome(resp.Message)
	out.DemoOTP = c.demoOTP(op, resp.OTPCode)
	return c.succeed(op, start, from, out)
}

// VerifyChallenge submits a passcode for the live challenge. A rejected code
// leaves the challenge live; the user may retry without limit.
func (c *Controller) VerifyChallenge(ctx context.Context, code string) (Outcome, error) {
	const op = OpVerify
	start := c.now()
	code = strings.TrimSpace(code)
	if code == "" {
		return c.reject(op, start, &Error{Op: op, Kind: KindValidation,
			Message: "Verification code is required", Err: ErrMissingInput})
	}

	var ch *challenge.Challenge
	f, aerr := c.begin(op, func() *Error {
		ch = c.s.challenge
		if ch == nil || !c.challenges.IsLive(ch) {
			return invalidState(op, c.s.state)
		}
		return nil
	}, StateAwaitingChallenge)
	if aerr != nil {
		return c.reject(op, start, aerr)
	}

	resp, err := c.engine.VerifyOTP(ctx, engine.VerifyRequest{
		PendingAuthID: engine.PendingID(ch.ID),
		OTPCode:       code,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(f) {
		return c.discard(op, start)
	}
	defer c.release(f)
	from := c.s.state

	if err != nil {
		return c.fail(op, start, from, wrapEngineError(op, err))
	}
	if !resp.Success {
		return c.fail(op, start, from, rejection(op, resp.Message))
	}
	if err := c.challenges.Retire(ch); err != nil {
		return c.fail(op, start, from, validation(op, err))
	}

	c.s.state = StateAuthenticated
	c.s.challenge = nil
	c.s.credentials = nil
	if resp.AccessToken != "" {
		c.s.accessToken = resp.AccessToken
		c.s.token = c.inspectToken(resp.AccessToken)
	}
	return c.succeed(op, start, from, c.outcome(resp.Message))
}

// ResendChallenge repeats the original login to obtain a fresh challenge.
// The previous challenge id is dead afterwards.
func (c *Controller) ResendChallenge(ctx context.Context) (Outcome, error) {
	const op = OpResend
	start := c.now()

	var (
		old *challenge.Challenge
		req engine.LoginRequest
	)
	f, aerr := c.begin(op, func() *Error {
		if c.s.credentials == nil || c.s.challenge == nil {
			return invalidState(op, c.s.state)
		}
		if c.resendLimiter != nil && !c.resendLimiter.AllowN(c.now(), 1) {
			return busy(op, ErrCooldown)
		}
		old = c.s.challenge
		req = *c.s.credentials
		return nil
	}, StateAwaitingChallenge)
	if aerr != nil {
		return c.reject(op, start, aerr)
	}

	resp, err := c.engine.Login(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(f) {
		return c.discard(op, start)
	}
	defer c.release(f)
	from := c.s.state

	if err != nil {
		return c.fail(op, start, from, wrapEngineError(op, err))
	}
	if !resp.RequireOTP && !resp.Success {
		return c.fail(op, start, from, rejection(op, resp.Message))
	}

	a, err := resp.Assessment(c.threshold, req)
	if err != nil {
		return c.fail(op, start, from, validation(op, err))
	}
	if !a.RequireChallenge {
		// The engine let the user in without step-up while a challenge is
		// outstanding. Nothing is applied.
		return c.fail(op, start, from, validation(op, ErrProtocol))
	}

	next, err := c.challenges.Supersede(old, resp.PendingAuthID.String())
	if err != nil {
		return c.fail(op, start, from, validation(op, err))
	}
	c.s.challenge = next
	c.s.lastAssessment = a

	out := c.outcome(resp.Message)
	out.DemoOTP = c.demoOTP(op, resp.OTPCode)
	return c.succeed(op, start, from, out)
}

// CancelChallenge abandons a pending step-up and returns to Unauthenticated.
func (c *Controller) CancelChallenge() (Outcome, error) {
	const op = OpCancel
	start := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	from := c.s.state
	if from != StateAwaitingChallenge {
		return c.fail(op, start, from, invalidState(op, from))
	}
	c.reset()
	return c.succeed(op, start, from, c.outcome(""))
}

// DismissSimulation leaves the simulation view.
func (c *Controller) DismissSimulation() (Outcome, error) {
	const op = OpDismiss
	start := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	from := c.s.state
	if from != StateSimulationDisplay {
		return c.fail(op, start, from, invalidState(op, from))
	}
	c.reset()
	return c.succeed(op, start, from, c.outcome(""))
}

// Logout returns to Unauthenticated from any state. Responses to requests
// still in flight are discarded when they arrive.
func (c *Controller) Logout() Outcome {
	const op = OpLogout
	start := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	from := c.s.state
	c.reset()
	out, _ := c.succeed(op, start, from, c.outcome(""))
	return out
}

// Register creates an account. The session is not touched.
func (c *Controller) Register(ctx context.Context, username, email, password string) (Outcome, error) {
	const op = OpRegister
	start := c.now()
	if strings.TrimSpace(username) == "" || password == "" {
		return c.reject(op, start, &Error{Op: op, Kind: KindValidation,
			Message: "Username and password are required", Err: ErrMissingInput})
	}

	f, aerr := c.begin(op, nil, StateUnauthenticated)
	if aerr != nil {
		return c.reject(op, start, aerr)
	}

	resp, err := c.engine.Register(ctx, engine.RegisterRequest{Username: username, Email: email, Password: password})

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(f) {
		return c.discard(op, start)
	}
	defer c.release(f)
	from := c.s.state

	if err != nil {
		return c.fail(op, start, from, wrapEngineError(op, err))
	}
	if !resp.Success {
		return c.fail(op, start, from, rejection(op, resp.Message))
	}
	return c.succeed(op, start, from, c.outcome(resp.Message))
}

// Simulate scores hypothetical login parameters and displays the result. It
// never authenticates.
func (c *Controller) Simulate(ctx context.Context, p simulation.Params) (Outcome, error) {
	const op = OpSimulate
	start := c.now()
	if c.simulator == nil {
		return c.reject(op, start, &Error{Op: op, Kind: KindInvalidState,
			Message: "Simulation is not available", Err: ErrNoSimulator})
	}

	f, aerr := c.begin(op, nil, StateUnauthenticated, StateSimulationDisplay)
	if aerr != nil {
		return c.reject(op, start, aerr)
	}

	a, err := c.simulator.RunScenario(ctx, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(f) {
		return c.discard(op, start)
	}
	defer c.release(f)
	from := c.s.state

	if err != nil {
		return c.fail(op, start, from, wrapEngineError(op, err))
	}
	c.s.state = StateSimulationDisplay
	c.s.lastAssessment = a
	return c.succeed(op, start, from, c.outcome(a.Action))
}

// begin claims the in-flight slot. guard runs under the lock after the state
// check and may veto the operation.
func (c *Controller) begin(op Op, guard func() *Error, allowed ...State) (*flight, *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !stateIn(c.s.state, allowed) {
		return nil, invalidState(op, c.s.state)
	}
	if c.s.inflight != nil {
		return nil, busy(op, ErrBusy)
	}
	if guard != nil {
		if err := guard(); err != nil {
			return nil, err
		}
	}
	f := &flight{op: op, gen: c.s.generation}
	c.s.inflight = f
	return f, nil
}

// owns reports whether f is still the live request of the current generation.
// Caller holds c.mu.
func (c *Controller) owns(f *flight) bool {
	return c.s.inflight == f && c.s.generation == f.gen
}

// release frees the in-flight slot if f still holds it. Caller holds c.mu.
func (c *Controller) release(f *flight) {
	if c.s.inflight == f {
		c.s.inflight = nil
	}
}

// reset clears the session and all challenge state. Caller holds c.mu.
func (c *Controller) reset() {
	c.challenges.Reset()
	c.resendLimiter = nil
	c.s.clear()
}

// startCooldown arms the resend limiter at challenge issuance.
func (c *Controller) startCooldown() {
	if c.resendInterval <= 0 {
		c.resendLimiter = nil
		return
	}
	c.resendLimiter = rate.NewLimiter(rate.Every(c.resendInterval), 1)
	c.resendLimiter.AllowN(c.now(), 1)
}

func (c *Controller) outcome(msg string) Outcome {
	return Outcome{
		State:      c.s.state,
		Message:    msg,
		Assessment: c.s.lastAssessment.Clone(),
	}
}

func (c *Controller) demoOTP(op Op, code string) string {
	if code == "" {
		return ""
	}
	if !c.showOTP {
		c.logger.Warn("engine echoed a one-time passcode; dropping it", zap.String("op", string(op)))
		return ""
	}
	return code
}

// inspectToken reads claims without verifying the signature. The result is
// for display and never gates a transition.
func (c *Controller) inspectToken(raw string) *TokenInfo {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		c.logger.Debug("access token is not a JWT", zap.Error(err))
		return nil
	}
	info := &TokenInfo{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info
}

// reject reports a failure detected before any request was sent.
func (c *Controller) reject(op Op, start time.Time, e *Error) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail(op, start, c.s.state, e)
}

// fail records e and returns it. Caller holds c.mu. The session is not
// modified.
func (c *Controller) fail(op Op, start time.Time, from State, e *Error) (Outcome, error) {
	elapsed := c.now().Sub(start)
	c.metrics.RecordOperation(op, e.Kind, elapsed)

	fields := []zap.Field{
		zap.String("op", string(op)),
		zap.String("kind", e.Kind.String()),
		zap.String("state", from.String()),
		zap.Error(e.Err),
	}
	switch e.Kind {
	case KindInvalidState, KindValidation, KindTransport:
		c.logger.Warn(e.Message, fields...)
	default:
		c.logger.Info(e.Message, fields...)
	}

	c.record(op, audit.OutcomeFailure, from, c.s.state, e.Kind, e.Message)
	out := c.outcome("")
	return out, e
}

// succeed records a completed operation. Caller holds c.mu.
func (c *Controller) succeed(op Op, start time.Time, from State, out Outcome) (Outcome, error) {
	c.metrics.RecordOperation(op, KindUnknown, c.now().Sub(start))
	c.metrics.RecordTransition(from, c.s.state)
	if from != c.s.state {
		c.logger.Info("state transition",
			zap.String("op", string(op)),
			zap.String("from", from.String()),
			zap.String("to", c.s.state.String()))
	}
	c.record(op, audit.OutcomeSuccess, from, c.s.state, KindUnknown, out.Message)
	return out, nil
}

// discard handles a response that arrived after the session moved on.
// Caller holds c.mu.
func (c *Controller) discard(op Op, start time.Time) (Outcome, error) {
	c.metrics.RecordOperation(op, KindUnknown, c.now().Sub(start))
	c.logger.Debug("discarding stale response", zap.String("op", string(op)))
	c.record(op, audit.OutcomeDiscarded, c.s.state, c.s.state, KindUnknown, "")
	return Outcome{State: c.s.state, Discarded: true}, nil
}

func (c *Controller) record(op Op, result audit.Outcome, from, to State, kind Kind, msg string) {
	if c.recorder == nil {
		return
	}
	e := audit.Event{
		Time:       c.now(),
		Operation:  string(op),
		Username:   c.s.identity,
		Outcome:    result,
		FromState:  from.String(),
		ToState:    to.String(),
		Message:    msg,
		Generation: c.s.generation,
	}
	if kind != KindUnknown {
		e.ErrorKind = kind.String()
	}
	if c.s.credentials != nil {
		e.Fingerprint = c.s.credentials.DeviceFingerprint
	}
	if a := c.s.lastAssessment; a != nil {
		score := a.Score
		e.RiskScore = &score
		e.RiskLevel = string(a.Level)
		if e.Fingerprint == "" {
			e.Fingerprint = a.DeviceFingerprint
		}
	}
	c.recorder.Record(e)
}

func stateIn(s State, allowed []State) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
