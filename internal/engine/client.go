// Package engine is the HTTP client for the remote risk engine. It speaks the
// engine's wire format and nothing else: interpreting a response is left to
// the session controller.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/willfong/adaptive-auth/internal/risk"
)

const (
	// DefaultTimeout bounds every request to the engine.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxResponseSize caps response bodies.
	DefaultMaxResponseSize = 1 << 20

	// RequestIDHeader correlates client logs with engine logs.
	RequestIDHeader = "X-Request-ID"
)

// Client talks to one risk engine. Safe for concurrent use.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	maxResponseSize int64
	logger          *zap.Logger
}

// NewClient creates a client for the engine at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   DefaultTimeout,
		},
		maxResponseSize: DefaultMaxResponseSize,
		logger:          zap.NewNop(),
	}
}

// WithTimeout sets the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithHTTPClient replaces the underlying HTTP client. Its transport is wrapped
// for tracing.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	wrapped := *hc
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped.Transport = otelhttp.NewTransport(base)
	c.httpClient = &wrapped
	return c
}

// WithMaxResponseSize sets the body size limit in bytes.
func (c *Client) WithMaxResponseSize(n int64) *Client {
	if n > 0 {
		c.maxResponseSize = n
	}
	return c
}

// WithLogger sets the logger used for request tracing.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	if logger != nil {
		c.logger = logger.Named("engine")
	}
	return c
}

// BaseURL returns the engine address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Login submits credentials. A 2xx answer is returned as-is, including
// success:false; non-2xx answers become *RemoteError.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	const op = "login"
	body, err := c.postJSON(ctx, op, PathLogin, req)
	if err != nil {
		return nil, err
	}

	var resp LoginResponse
	if err := decodeResponse(op, body, &resp); err != nil {
		return nil, err
	}
	raw, err := risk.DecodeObject(body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	resp.raw = raw
	return &resp, nil
}

// VerifyOTP submits a passcode for a pending step-up.
func (c *Client) VerifyOTP(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	const op = "verify-otp"
	body, err := c.postJSON(ctx, op, PathVerifyOTP, req)
	if err != nil {
		return nil, err
	}

	var resp VerifyResponse
	if err := decodeResponse(op, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	const op = "register"
	body, err := c.postJSON(ctx, op, PathRegister, req)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := decodeResponse(op, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SimulateLogin asks the engine to score hypothetical login parameters. The
// answer is validated into an Assessment; a malformed one is returned as a
// *risk.ValidationError.
func (c *Client) SimulateLogin(ctx context.Context, req SimulateRequest) (*risk.Assessment, error) {
	const op = "simulate-login"
	q := url.Values{}
	q.Set("username", req.Username)
	q.Set("device_fingerprint", req.DeviceFingerprint)
	q.Set("ip_address", req.IPAddress)
	if req.LocationLat != nil {
		q.Set("location_lat", strconv.FormatFloat(*req.LocationLat, 'f', -1, 64))
	}
	if req.LocationLon != nil {
		q.Set("location_lon", strconv.FormatFloat(*req.LocationLon, 'f', -1, 64))
	}

	body, err := c.postQuery(ctx, op, PathSimulateLogin, q)
	if err != nil {
		return nil, err
	}
	raw, err := risk.DecodeObject(body)
	if err != nil {
		return nil, err
	}
	normalizeSimulation(raw)
	return risk.Parse(raw)
}

// normalizeSimulation fills require_otp from the action label when the engine
// omitted it. Unknown labels are left alone so validation rejects them.
func normalizeSimulation(raw map[string]any) {
	if _, ok := raw["require_otp"]; ok {
		return
	}
	switch raw["action"] {
	case risk.ActionRequireMFA:
		raw["require_otp"] = true
	case risk.ActionPasswordOnly:
		raw["require_otp"] = false
	}
}

// SeedLoginHistory asks the engine to fabricate a normal login history for
// username. Calling it again is harmless.
func (c *Client) SeedLoginHistory(ctx context.Context, username string) (*SeedResponse, error) {
	const op = "seed-login-history"
	q := url.Values{}
	q.Set("username", username)

	body, err := c.postQuery(ctx, op, PathSeedLoginHistory, q)
	if err != nil {
		return nil, err
	}

	var resp SeedResponse
	if err := decodeResponse(op, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req)
}

func (c *Client) postQuery(ctx context.Context, op, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("op", op),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := c.readResponse(resp)
	c.logger.Debug("response",
		zap.String("op", op),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &TransportError{Op: op, Err: ErrEmptyResponse}
	}
	return body, nil
}

// readResponse reads the body, refusing anything past the size limit.
func (c *Client) readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > c.maxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

// errorMessage extracts server-supplied text from an error body. The engine
// uses "message"; framework validation errors use a string "detail".
func errorMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		return detail
	}
	return ""
}

// decodeResponse unmarshals a 2xx body. A field of the wrong JSON type is a
// contract violation; anything else undecodable is a transport failure.
func decodeResponse(op string, body []byte, v any) error {
	err := json.Unmarshal(body, v)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &risk.ValidationError{Field: typeErr.Field, Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)}
	}
	return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
