// Package errors provides the error kinds of the NFC relay.
//
// Sentinels name the recoverable conditions the relay reports
// (unsupported hardware, missing counterpart, lost card connection,
// sink overflow).  Structured types carry the operation context that
// helps callers log and classify a failure.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrUnsupportedHardware = errors.New("no supported tag technology")
	ErrNotConnected        = errors.New("not connected")
	ErrConnectionLost      = errors.New("card connection lost")
	ErrSinkOverflow        = errors.New("sink queue full")
	ErrRoleConflict        = errors.New("card and emulator roles are mutually exclusive")
	ErrKindChanged         = errors.New("filter stage changed message kind")
	ErrLinkClosed          = errors.New("network link is closed")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
	ErrTimeout             = errors.New("operation timed out")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrHostKeyMismatch     = errors.New("host key mismatch")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network link operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "channel"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// HardwareError represents a failure talking to the card or emulator.
type HardwareError struct {
	Op   string // "connect", "transceive", "close", "upload", "activate", "respond"
	Tech string // tag technology or "emulator"
	Err  error
}

func (e *HardwareError) Error() string {
	if e.Tech == "" {
		return fmt.Sprintf("hardware %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("hardware %s (%s): %v", e.Op, e.Tech, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// WorkaroundError reports that the chipset workaround loop stopped.
// It never ends a relay session.
type WorkaroundError struct {
	Chipset string
	Err     error
}

func (e *WorkaroundError) Error() string {
	return fmt.Sprintf("workaround (%s): %v", e.Chipset, e.Err)
}

func (e *WorkaroundError) Unwrap() error { return e.Err }

// FilterError reports a failing pipeline stage.
type FilterError struct {
	Stage string
	Err   error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s: %v", e.Stage, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// WrapHardware creates a HardwareError.
func WrapHardware(op, tech string, err error) *HardwareError {
	return &HardwareError{Op: op, Tech: tech, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsRecoverable reports whether err is one of the relay conditions that
// is handled locally (teardown + notify) rather than surfaced to the
// process.  Every relay error is recoverable except a nil one.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	for _, s := range []error{
		ErrUnsupportedHardware, ErrNotConnected, ErrConnectionLost,
		ErrSinkOverflow, ErrRoleConflict, ErrKindChanged,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	var we *WorkaroundError
	var fe *FilterError
	return errors.As(err, &we) || errors.As(err, &fe)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	// net.OpError with Temporary() hint
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	// DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use nfcrelay/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
