package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error by the stage that raised it.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates invalid caller parameters, detected before
	// anything is written or any external command runs.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassValidation indicates vagrant rejected the generated Vagrantfile.
	// No instance state has changed.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassOperational indicates a lifecycle command (up, halt, destroy) failed.
	// Partial success is possible and is not rolled back.
	ErrorClassOperational ErrorClass = "operational"

	// ErrorClassQuery indicates a status or ssh-config lookup failed.
	ErrorClassQuery ErrorClass = "query"

	// ErrorClassInternal indicates an unexpected condition such as a missing
	// vagrant binary or an unwritable working directory.
	ErrorClassInternal ErrorClass = "internal"
)

// Failure carries the diagnostic payload of a failed external command.
type Failure struct {
	// Command is the command line that was executed.
	Command string `json:"cmd"`

	// ExitCode is the command return code.
	ExitCode int `json:"rc"`

	// Stderr is the captured error output, usually the full stderr log.
	Stderr string `json:"stderr"`
}

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Instance is the instance name that caused the error, if applicable.
	Instance string `json:"instance,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Failure is set when an external command failed.
	Failure *Failure `json:"failure,omitempty"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Instance != "" {
		msg = fmt.Sprintf("%s (instance=%s)", msg, e.Instance)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassValidation,
		Message: message,
		Err:     err,
	}
}

// NewOperationalError creates a new operational error.
func NewOperationalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassOperational,
		Message: message,
		Err:     err,
	}
}

// NewQueryError creates a new query error.
func NewQueryError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassQuery,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
		Err:     err,
	}
}

// WithInstance adds instance context to an error.
func (e *EngineError) WithInstance(name string) *EngineError {
	e.Instance = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithFailure attaches the diagnostic payload of a failed command.
func (e *EngineError) WithFailure(f *Failure) *EngineError {
	e.Failure = f
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsConfiguration returns true if the error is classified as a configuration error.
func IsConfiguration(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassConfiguration
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassValidation
}

// IsOperational returns true if the error is classified as an operational failure.
func IsOperational(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassOperational
}

// IsQuery returns true if the error is classified as a query failure.
func IsQuery(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassQuery
}

// IsInternal returns true if the error is classified as internal.
func IsInternal(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassInternal
}

// Common error codes.
const (
	ErrCodeInvalidParams  = "INVALID_PARAMS"
	ErrCodeChecksumPair   = "CHECKSUM_PAIR"
	ErrCodeDuplicateName  = "DUPLICATE_NAME"
	ErrCodePolicyDenied   = "POLICY_DENIED"
	ErrCodeRenderFailed   = "RENDER_FAILED"
	ErrCodeValidateFailed = "VALIDATE_FAILED"
	ErrCodeUpFailed       = "UP_FAILED"
	ErrCodeHaltFailed     = "HALT_FAILED"
	ErrCodeDestroyFailed  = "DESTROY_FAILED"
	ErrCodeStatusFailed   = "STATUS_FAILED"
	ErrCodeConfFailed     = "CONF_FAILED"
	ErrCodeToolMissing    = "TOOL_MISSING"
)
