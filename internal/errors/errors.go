// Package errors provides structured error handling for complyscan operations.
// It defines error codes, a fatal/soft severity classification and helpers
// used to decide, at a single point, whether a run must terminate.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"

	// Remote service errors.
	CodeRequestFailed   ErrorCode = "REQUEST_FAILED"
	CodeInventoryLookup ErrorCode = "INVENTORY_LOOKUP"
	CodeNoPolicies      ErrorCode = "NO_POLICIES"

	// Host and scan errors.
	CodeMissingPackages ErrorCode = "MISSING_PACKAGES"
	CodePolicyDocument  ErrorCode = "POLICY_DOCUMENT"
	CodeScanFailed      ErrorCode = "SCAN_FAILED"
	CodeOutOfMemory     ErrorCode = "OUT_OF_MEMORY"
	CodeOSRelease       ErrorCode = "OS_RELEASE"

	// Result handling errors.
	CodePostProcess ErrorCode = "POST_PROCESS"
	CodeArchive     ErrorCode = "ARCHIVE"
)

// Severity classifies how an error affects the run.
type Severity int

const (
	// SeveritySoft errors are logged and the run continues.
	SeveritySoft Severity = iota
	// SeverityFatal errors terminate the whole run.
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "soft"
}

// ComplianceError represents an error raised during a compliance scan run.
type ComplianceError struct {
	Code        ErrorCode
	Message     string
	Severity    Severity
	PolicyRefID string
	ExitCode    int
	Output      string
	Cause       error
}

// Error implements the error interface.
func (e *ComplianceError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.PolicyRefID != "" {
		msg = fmt.Sprintf("%s (policy: %s)", msg, e.PolicyRefID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ComplianceError) Unwrap() error {
	return e.Cause
}

// WithPolicy records the policy the error belongs to.
func (e *ComplianceError) WithPolicy(refID string) *ComplianceError {
	e.PolicyRefID = refID
	return e
}

// WithProcess records the exit code and captured output of a failed command.
func (e *ComplianceError) WithProcess(exitCode int, output string) *ComplianceError {
	e.ExitCode = exitCode
	e.Output = output
	return e
}

// NewFatal creates a fatal error with the given code and message.
func NewFatal(code ErrorCode, message string) *ComplianceError {
	return &ComplianceError{Code: code, Message: message, Severity: SeverityFatal}
}

// WrapFatal wraps err as a fatal error.
func WrapFatal(code ErrorCode, message string, err error) *ComplianceError {
	return &ComplianceError{Code: code, Message: message, Severity: SeverityFatal, Cause: err}
}

// NewSoft creates a recoverable error with the given code and message.
func NewSoft(code ErrorCode, message string) *ComplianceError {
	return &ComplianceError{Code: code, Message: message, Severity: SeveritySoft}
}

// WrapSoft wraps err as a recoverable error.
func WrapSoft(code ErrorCode, message string, err error) *ComplianceError {
	return &ComplianceError{Code: code, Message: message, Severity: SeveritySoft, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var ce *ComplianceError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return cfg.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsFatal reports whether err must terminate the run. Configuration errors
// and unclassified errors are fatal; only explicitly soft errors are not.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ComplianceError
	if errors.As(err, &ce) {
		return ce.Severity == SeverityFatal
	}
	return true
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}

// As is errors.As, re-exported so callers need not import both packages.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is errors.Is, re-exported so callers need not import both packages.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
