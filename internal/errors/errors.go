package errors

import (
	"errors"
	"fmt"
)

// Exit codes for clonebox
const (
	ExitSuccess             = 0
	ExitGeneralError        = 1
	ExitSandboxNotFound     = 2
	ExitProvisioningFailed  = 3
	ExitSecurityApplication = 4
	ExitDestructionFailed   = 5
	ExitConfigError         = 6
	ExitMonitoringFailed    = 7
	ExitQuotaExceeded       = 8
)

// Kind classifies a CloneboxError.
type Kind string

const (
	KindGeneral             Kind = "general"
	KindProvisioning        Kind = "provisioning"
	KindSecurityApplication Kind = "security-application"
	KindQuotaExceeded       Kind = "quota-exceeded"
	KindDestruction         Kind = "destruction"
	KindMonitoring          Kind = "monitoring"
	KindCreation            Kind = "creation"
	KindNotFound            Kind = "not-found"
	KindConfig              Kind = "config"
	KindValidation          Kind = "validation"
)

// CloneboxError is the base error type for clonebox
type CloneboxError struct {
	Code    int
	Kind    Kind
	Subject string // sandbox id, path or step the error is about
	Message string
	Cause   error
}

func (e *CloneboxError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CloneboxError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the exit code for this error
func (e *CloneboxError) ExitCode() int {
	return e.Code
}

// New creates a new CloneboxError
func New(code int, kind Kind, message string) *CloneboxError {
	return &CloneboxError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// Wrap wraps an existing error with a CloneboxError
func Wrap(code int, kind Kind, message string, cause error) *CloneboxError {
	return &CloneboxError{
		Code:    code,
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Common error constructors

// SandboxNotFound returns an error for a missing sandbox
func SandboxNotFound(id string) *CloneboxError {
	err := New(ExitSandboxNotFound, KindNotFound, fmt.Sprintf("sandbox not found: %s", id))
	err.Subject = id
	return err
}

// ProvisioningFailed returns an error for a directory that could not be created.
func ProvisioningFailed(path string, cause error) *CloneboxError {
	err := Wrap(ExitProvisioningFailed, KindProvisioning, fmt.Sprintf("provisioning %s failed", path), cause)
	err.Subject = path
	return err
}

// SecurityApplicationFailed returns an error for a descriptor that could not be written.
func SecurityApplicationFailed(descriptor string, cause error) *CloneboxError {
	err := Wrap(ExitSecurityApplication, KindSecurityApplication, fmt.Sprintf("writing %s descriptor failed", descriptor), cause)
	err.Subject = descriptor
	return err
}

// QuotaExceeded is a soft signal: usage is above the effective limit.
func QuotaExceeded(id string, used, limit int64) *CloneboxError {
	err := New(ExitQuotaExceeded, KindQuotaExceeded, fmt.Sprintf("sandbox %s uses %d of %d bytes", id, used, limit))
	err.Subject = id
	return err
}

// DestructionFailed returns an error for a sandbox that could not be torn down.
func DestructionFailed(id string, cause error) *CloneboxError {
	err := Wrap(ExitDestructionFailed, KindDestruction, fmt.Sprintf("destroying sandbox %s failed", id), cause)
	err.Subject = id
	return err
}

// MonitoringFailed returns an error scoped to one sandbox in one monitor tick.
func MonitoringFailed(id string, cause error) *CloneboxError {
	err := Wrap(ExitMonitoringFailed, KindMonitoring, fmt.Sprintf("monitoring sandbox %s failed", id), cause)
	err.Subject = id
	return err
}

// CreationFailed returns an error naming the create step that failed.
// The exit code is inherited from the cause when it carries one.
func CreationFailed(step string, cause error) *CloneboxError {
	code := ExitGeneralError
	var inner *CloneboxError
	if errors.As(cause, &inner) {
		code = inner.Code
	}
	err := Wrap(code, KindCreation, fmt.Sprintf("create failed at step %s", step), cause)
	err.Subject = step
	return err
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *CloneboxError {
	return Wrap(ExitConfigError, KindConfig, message, cause)
}

// ValidationError returns an error for input validation failures
func ValidationError(message string) *CloneboxError {
	return New(ExitGeneralError, KindValidation, message)
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	var cbErr *CloneboxError
	if errors.As(err, &cbErr) {
		return cbErr.ExitCode()
	}
	return ExitGeneralError
}

// IsKind reports whether any CloneboxError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var cbErr *CloneboxError
		if !errors.As(err, &cbErr) {
			return false
		}
		if cbErr.Kind == kind {
			return true
		}
		err = cbErr.Cause
	}
	return false
}

// Step returns the failed step recorded in a creation error, if any.
func Step(err error) (string, bool) {
	var cbErr *CloneboxError
	for err != nil && errors.As(err, &cbErr) {
		if cbErr.Kind == KindCreation {
			return cbErr.Subject, true
		}
		err = cbErr.Cause
	}
	return "", false
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join combines errors; nil entries are discarded.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
