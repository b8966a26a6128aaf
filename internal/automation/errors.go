package automation

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a failed execution attempt. It is stored on the attempt record.
type Code string

const (
	// CodeAuthExpired means the provider rejected the owner's credential.
	CodeAuthExpired Code = "AuthExpired"
	// CodeNotFound means the repository or path is missing.
	CodeNotFound Code = "NotFound"
	// CodeConflict means the file changed upstream since it was read.
	CodeConflict Code = "Conflict"
	// CodeRateLimited means the provider throttled the request.
	CodeRateLimited Code = "RateLimited"
	// CodeTimeout means an upstream call exceeded its deadline.
	CodeTimeout Code = "Timeout"
	// CodeConfig means the rule definition could not be evaluated.
	CodeConfig Code = "ConfigError"
	// CodePersistence means a store write failed.
	CodePersistence Code = "PersistenceError"
	// CodeUnknown covers everything else.
	CodeUnknown Code = "Unknown"
)

var (
	// ErrCredentialUnavailable indicates the owner has no stored provider token.
	ErrCredentialUnavailable = errors.New("automation: credential unavailable")
	// ErrCredentialSuspended indicates the owner's token was flagged invalid and awaits refresh.
	ErrCredentialSuspended = errors.New("automation: credential suspended until re-authentication")
	// ErrAttemptFinalized indicates a second finalization of the same attempt record.
	ErrAttemptFinalized = errors.New("automation: attempt already finalized")
)

// ProviderError is a failure reported by the repository gateway.
type ProviderError struct {
	Code       Code
	StatusCode int
	Op         string
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("provider %s: %s", e.Op, e.Code)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status=%d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Transient reports whether the failure is expected to clear by the next tick.
func (e *ProviderError) Transient() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeConflict, CodeRateLimited, CodeTimeout, CodeUnknown:
		return true
	default:
		return false
	}
}

// ConfigError is a malformed rule definition.
type ConfigError struct {
	RuleID uint64
	Err    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("automation %d: config: %v", e.RuleID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PersistenceError is a failed read or write against the rule store or run log.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// CodeOf maps any error to the failure code recorded on an attempt.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Code != "" {
		return providerErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return CodeConfig
	}
	var persistenceErr *PersistenceError
	if errors.As(err, &persistenceErr) {
		return CodePersistence
	}
	return CodeUnknown
}

// StatusCodeOf returns the provider HTTP status carried by err, if any.
func StatusCodeOf(err error) (int, bool) {
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) || providerErr.StatusCode <= 0 {
		return 0, false
	}
	return providerErr.StatusCode, true
}
