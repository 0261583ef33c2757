// Package refengine is a self-contained risk engine that serves the same wire
// contract as the production engine. It backs the test suites and the
// `authctl serve` command so the client can be exercised without a remote
// deployment. State is in memory and lost on exit.
package refengine

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/willfong/adaptive-auth/internal/engine"
)

const (
	// OTPTTL is how long an issued passcode stays valid.
	OTPTTL = 5 * time.Minute
	// MaxOTPAttempts is the number of wrong passcodes tolerated per challenge.
	MaxOTPAttempts = 3
	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL = time.Hour

	otpIssuer = "adaptive-auth"
)

// Config tunes an Engine.
type Config struct {
	// EchoOTP includes the issued passcode in login responses. Demo only.
	EchoOTP bool
	// SigningKey signs access tokens. A random key is used when empty.
	SigningKey []byte
	Logger     *zap.Logger
}

// Engine is the in-memory risk engine.
type Engine struct {
	mu       sync.Mutex
	store    *store
	echoOTP  bool
	key      []byte
	now      func() time.Time
	clientIP string
	faults   *Faults
	logger   *zap.Logger

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	verdicts *prometheus.CounterVec
}

// New creates an engine with no users.
func New(cfg Config) *Engine {
	key := cfg.SigningKey
	if len(key) == 0 {
		id := uuid.New()
		key = id[:]
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		store:    newStore(),
		echoOTP:  cfg.EchoOTP,
		key:      key,
		now:      time.Now,
		faults:   newFaults(),
		logger:   logger.Named("refengine"),
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refengine_requests_total",
			Help: "Requests served, by path and status code.",
		}, []string{"path", "code"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refengine_verdicts_total",
			Help: "Risk verdicts issued, by endpoint and level.",
		}, []string{"endpoint", "level"}),
	}
	e.registry.MustRegister(e.requests, e.verdicts)
	return e
}

// Handler returns the engine's HTTP surface.
func (e *Engine) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(e.instrument, e.faults.middleware)

	r.HandleFunc(engine.PathRegister, e.handleRegister).Methods(http.MethodPost)
	r.HandleFunc(engine.PathLogin, e.handleLogin).Methods(http.MethodPost)
	r.HandleFunc(engine.PathVerifyOTP, e.handleVerify).Methods(http.MethodPost)
	r.HandleFunc(engine.PathSimulateLogin, e.handleSimulate).Methods(http.MethodPost)
	r.HandleFunc(engine.PathSeedLoginHistory, e.handleSeed).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return otelhttp.NewHandler(r, "refengine")
}

// SetNow replaces the engine clock.
func (e *Engine) SetNow(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// SetClientIP pins the address the login endpoint scores instead of the
// connection's remote address.
func (e *Engine) SetClientIP(ip string) {
	e.mu.Lock()
	e.clientIP = ip
	e.mu.Unlock()
}

// SetEchoOTP toggles the demo passcode echo.
func (e *Engine) SetEchoOTP(on bool) {
	e.mu.Lock()
	e.echoOTP = on
	e.mu.Unlock()
}

// AddUser registers an account directly.
func (e *Engine) AddUser(username, email, password string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.addUser(username, email, password)
}

// TrustDevice marks device as known for username.
func (e *Engine) TrustDevice(username, device string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.store.users[username]
	if !ok {
		return fmt.Errorf("unknown user %q", username)
	}
	u.trusted[device] = true
	return nil
}

// PendingCode returns the passcode issued for a pending step-up.
func (e *Engine) PendingCode(id string) (string, bool) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.store.pending[n]
	if !ok {
		return "", false
	}
	return p.code, true
}

// SigningKey returns the HMAC key used for access tokens.
func (e *Engine) SigningKey() []byte {
	return e.key
}

// Faults exposes request interception for tests and demos.
func (e *Engine) Faults() *Faults {
	return e.faults
}

type loginResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	RiskLevel     *string `json:"risk_level"`
	RiskScore     *int    `json:"risk_score"`
	RequireOTP    bool    `json:"require_otp"`
	PendingAuthID *int    `json:"pending_auth_id"`
	OTPCode       *string `json:"otp_code"`
}

type authResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	AccessToken *string `json:"access_token"`
}

type simulateResponse struct {
	Username          string            `json:"username"`
	IPAddress         string            `json:"ip_address"`
	DeviceFingerprint string            `json:"device_fingerprint"`
	Location          map[string]any    `json:"location"`
	RiskScore         int               `json:"risk_score"`
	RiskLevel         string            `json:"risk_level"`
	Threshold         int               `json:"threshold"`
	Signals           map[string]signal `json:"signals"`
	Action            string            `json:"action"`
}

func (e *Engine) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req engine.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	e.mu.Lock()
	err := e.store.addUser(req.Username, req.Email, req.Password)
	e.mu.Unlock()

	if err == errDuplicateUser {
		writeJSON(w, http.StatusOK, engine.RegisterResponse{Success: false, Message: err.Error()})
		return
	}
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, engine.RegisterResponse{Success: true, Message: "User registered successfully"})
}

func (e *Engine) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req engine.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	ip := e.remoteIP(r)
	u := e.store.users[req.Username]
	v := assess(u, loginInput{IP: ip, Device: req.DeviceFingerprint}, now)
	e.verdicts.WithLabelValues("login", v.Level).Inc()

	if u == nil || !u.checkPassword(req.Password) {
		if u != nil {
			u.logins = append(u.logins, loginRecord{At: now, IP: ip, Device: req.DeviceFingerprint,
				Score: v.Score, Level: v.Level})
		}
		writeJSON(w, http.StatusOK, loginResponse{Success: false, Message: "Invalid credentials", RiskLevel: &v.Level})
		return
	}

	if v.Level == "low" {
		u.logins = append(u.logins, loginRecord{At: now, IP: ip, Device: req.DeviceFingerprint,
			Score: v.Score, Level: v.Level, Success: true})
		u.lastLogin = now
		writeJSON(w, http.StatusOK, loginResponse{
			Success:   true,
			Message:   "Login successful",
			RiskLevel: &v.Level,
			RiskScore: &v.Score,
		})
		return
	}

	code, err := e.generateCode(u.username, now)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	p := e.store.newPending(&pendingAuth{
		username: u.username,
		code:     code,
		expires:  now.Add(OTPTTL),
		ip:       ip,
		device:   req.DeviceFingerprint,
	})
	e.logger.Info("step-up issued", zap.String("username", u.username), zap.Int("pending_auth_id", p.id))

	resp := loginResponse{
		Success:       true,
		Message:       "Additional verification required. OTP has been sent.",
		RiskLevel:     &v.Level,
		RiskScore:     &v.Score,
		RequireOTP:    true,
		PendingAuthID: &p.id,
	}
	if e.echoOTP {
		resp.OTPCode = &code
	}
	writeJSON(w, http.StatusOK, resp)
}

// generateCode derives a six digit passcode from a fresh TOTP secret.
func (e *Engine) generateCode(account string, now time.Time) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: otpIssuer, AccountName: account})
	if err != nil {
		return "", fmt.Errorf("generate otp secret: %w", err)
	}
	return totp.GenerateCode(key.Secret(), now)
}

func (e *Engine) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PendingAuthID int    `json:"pending_auth_id"`
		OTPCode       string `json:"otp_code"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	p, ok := e.store.pending[req.PendingAuthID]
	if !ok || p.used {
		writeJSON(w, http.StatusOK, authResponse{Message: "Invalid or expired session"})
		return
	}
	if now.After(p.expires) {
		writeJSON(w, http.StatusOK, authResponse{Message: "OTP expired"})
		return
	}
	if p.attempts >= MaxOTPAttempts {
		writeJSON(w, http.StatusOK, authResponse{Message: "Too many attempts"})
		return
	}
	if req.OTPCode != p.code {
		p.attempts++
		writeJSON(w, http.StatusOK, authResponse{
			Message: fmt.Sprintf("Invalid OTP. %d attempts remaining", MaxOTPAttempts-p.attempts),
		})
		return
	}

	p.used = true
	u := e.store.users[p.username]
	u.lastLogin = now
	if p.device != "" {
		u.trusted[p.device] = true
	}
	u.logins = append(u.logins, loginRecord{At: now, IP: p.ip, Device: p.device, Level: "high", Success: true})

	token, err := e.issueToken(u.username, now)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true, Message: "Login successful", AccessToken: &token})
}

func (e *Engine) issueToken(username string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    otpIssuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.key)
}

func (e *Engine) handleSimulate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username := q.Get("username")
	if username == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username is required")
		return
	}
	ip := q.Get("ip_address")
	if ip == "" {
		ip = "127.0.0.1"
	}
	device := q.Get("device_fingerprint")
	if device == "" {
		device = "demo-device"
	}
	lat, err := optionalFloat(q.Get("location_lat"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "location_lat must be a number")
		return
	}
	lon, err := optionalFloat(q.Get("location_lon"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "location_lon must be a number")
		return
	}

	e.mu.Lock()
	v := assess(e.store.users[username], loginInput{IP: ip, Device: device, Lat: lat, Lon: lon}, e.now())
	e.mu.Unlock()
	e.verdicts.WithLabelValues("simulate", v.Level).Inc()

	action := "Allow password-only"
	if v.Level == "high" {
		action = "Require MFA"
	}
	writeJSON(w, http.StatusOK, simulateResponse{
		Username:          username,
		IPAddress:         ip,
		DeviceFingerprint: device,
		Location:          map[string]any{"lat": lat, "lon": lon},
		RiskScore:         v.Score,
		RiskLevel:         v.Level,
		Threshold:         RiskThreshold,
		Signals:           v.Signals,
		Action:            action,
	})
}

func (e *Engine) handleSeed(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")

	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.store.users[username]
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "User not found"})
		return
	}
	n := e.store.seed(u, e.now())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"message":        fmt.Sprintf("Seeded %d login attempts (including 1 recent) and trusted device for %s", n, username),
		"trusted_device": HomeDevice,
		"location":       HomeLocation,
	})
}

func (e *Engine) remoteIP(r *http.Request) string {
	if e.clientIP != "" {
		return e.clientIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "unknown"
	}
	return host
}

func optionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
