package auth

import (
	"errors"
	"fmt"

	"github.com/willfong/adaptive-auth/internal/challenge"
	"github.com/willfong/adaptive-auth/internal/engine"
	"github.com/willfong/adaptive-auth/internal/risk"
	"github.com/willfong/adaptive-auth/internal/simulation"
)

// Sentinel causes carried in Error.Err
var (
	ErrInvalidState = errors.New("operation not allowed in current state")
	ErrBusy         = errors.New("another operation is in flight")
	ErrCooldown     = errors.New("resend requested too soon")
	ErrProtocol     = errors.New("unexpected engine response")
	ErrNoSimulator  = errors.New("no simulation harness configured")
	ErrMissingInput = errors.New("required input missing")
)

// Kind categorizes failures for callers, metrics and audit
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is a malformed engine response or missing local input.
	KindValidation
	// KindInvalidState is an operation invoked outside its allowed states.
	KindInvalidState
	// KindRemoteRejection is an engine refusal carrying its own message.
	KindRemoteRejection
	// KindTransport is a request that produced no usable answer.
	KindTransport
	// KindBusy is a request refused because another is outstanding or the
	// resend cooldown has not elapsed.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidState:
		return "invalid_state"
	case KindRemoteRejection:
		return "remote_rejection"
	case KindTransport:
		return "transport"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is the only error type returned by Controller operations. Message is
// safe to show to the user; Err holds the cause for logs.
type Error struct {
	Op      Op
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify determines the kind of an error from any layer
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}

	var remote *engine.RemoteError
	switch {
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrBusy), errors.Is(err, ErrCooldown):
		return KindBusy
	case errors.Is(err, risk.ErrInvalidAssessment),
		errors.Is(err, challenge.ErrEmptyID),
		errors.Is(err, ErrProtocol),
		errors.Is(err, ErrMissingInput),
		errors.Is(err, simulation.ErrMissingUsername):
		return KindValidation
	case errors.As(err, &remote):
		if remote.HasMessage() {
			return KindRemoteRejection
		}
		return KindTransport
	default:
		// Cancellation, timeouts and connection failures
		return KindTransport
	}
}

// fallbackMessage is shown when the engine supplied no text of its own.
func fallbackMessage(op Op) string {
	switch op {
	case OpLogin:
		return "Login failed"
	case OpVerify:
		return "OTP verification failed"
	case OpResend:
		return "Failed to resend OTP"
	case OpRegister:
		return "Registration failed"
	case OpSimulate:
		return "Simulation failed. Register testuser first."
	default:
		return "Request failed"
	}
}

// wrapEngineError converts an engine or contract error into an *Error.
func wrapEngineError(op Op, err error) *Error {
	kind := Classify(err)
	msg := fallbackMessage(op)

	var remote *engine.RemoteError
	switch {
	case kind == KindRemoteRejection && errors.As(err, &remote):
		msg = remote.Message
	case errors.Is(err, simulation.ErrMissingUsername):
		msg = "Username is required"
	}
	return &Error{Op: op, Kind: kind, Message: msg, Err: err}
}

// rejection builds a RemoteRejection from a success:false response.
func rejection(op Op, serverMsg string) *Error {
	if serverMsg == "" {
		return &Error{Op: op, Kind: KindRemoteRejection, Message: fallbackMessage(op)}
	}
	return &Error{Op: op, Kind: KindRemoteRejection, Message: serverMsg}
}

func invalidState(op Op, s State) *Error {
	return &Error{
		Op:      op,
		Kind:    KindInvalidState,
		Message: fmt.Sprintf("%s is not allowed while %s", op, s),
		Err:     ErrInvalidState,
	}
}

func busy(op Op, cause error) *Error {
	msg := "Another request is already in progress"
	if errors.Is(cause, ErrCooldown) {
		msg = "Please wait before requesting another code"
	}
	return &Error{Op: op, Kind: KindBusy, Message: msg, Err: cause}
}

func validation(op Op, cause error) *Error {
	return &Error{Op: op, Kind: KindValidation, Message: fallbackMessage(op), Err: cause}
}
