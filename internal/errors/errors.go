package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// TenantNotFoundError is returned when a tenant id has no registry record
type TenantNotFoundError struct {
	TenantID string
}

func (e *TenantNotFoundError) Error() string {
	if e.TenantID == "" {
		return "tenant not found"
	}
	return fmt.Sprintf("tenant %s not found", e.TenantID)
}

// Is matches any TenantNotFoundError, so callers can compare against ErrTenantNotFound
func (e *TenantNotFoundError) Is(target error) bool {
	_, ok := target.(*TenantNotFoundError)
	return ok
}

type DomainErrorKind string

const (
	DomainInvalid           DomainErrorKind = "invalid"
	DomainAlreadyRegistered DomainErrorKind = "already-registered"
	DomainRejected          DomainErrorKind = "rejected"
	DomainNotFound          DomainErrorKind = "not-found"
)

// DomainVerificationError covers invalid domains, ownership conflicts and rejected verification
type DomainVerificationError struct {
	Domain string
	Kind   DomainErrorKind
	Reason string
}

func (e *DomainVerificationError) Error() string {
	msg := fmt.Sprintf("domain %s: %s", e.Domain, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is matches on Kind only
func (e *DomainVerificationError) Is(target error) bool {
	t, ok := target.(*DomainVerificationError)
	if !ok {
		return false
	}
	return t.Kind == "" || e.Kind == t.Kind
}

type DeploymentErrorKind string

const (
	DeploymentPathNotFound       DeploymentErrorKind = "path-not-found"
	DeploymentStorageUnavailable DeploymentErrorKind = "storage-unavailable"
	DeploymentUploadFailed       DeploymentErrorKind = "upload-failed"
)

type DeploymentError struct {
	Kind     DeploymentErrorKind
	TenantID string
	Path     string
	Err      error
}

func (e *DeploymentError) Error() string {
	msg := fmt.Sprintf("deployment %s", e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeploymentError) Unwrap() error { return e.Err }

func (e *DeploymentError) Is(target error) bool {
	t, ok := target.(*DeploymentError)
	if !ok {
		return false
	}
	return t.Kind == "" || e.Kind == t.Kind
}

// ObjectStoreOperationError is a storage failure. StatusCode is the HTTP status
// reported by the store, or 0 when the request never got a response.
type ObjectStoreOperationError struct {
	Op         string
	Key        string
	StatusCode int
	Code       string
	Err        error
}

func (e *ObjectStoreOperationError) Error() string {
	msg := fmt.Sprintf("object store %s", e.Op)
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ObjectStoreOperationError) Unwrap() error { return e.Err }

func (e *ObjectStoreOperationError) HTTPStatus() int { return e.StatusCode }

func (e *ObjectStoreOperationError) Is(target error) bool {
	_, ok := target.(*ObjectStoreOperationError)
	return ok
}

// EdgePlatformError is an edge platform API failure
type EdgePlatformError struct {
	Op         string
	StatusCode int
	Codes      []int
	Messages   []string
	Err        error
}

// HasCode reports whether the platform returned the given API error code
func (e *EdgePlatformError) HasCode(code int) bool {
	for _, c := range e.Codes {
		if c == code {
			return true
		}
	}
	return false
}

func (e *EdgePlatformError) Error() string {
	msg := fmt.Sprintf("edge platform %s", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	for _, m := range e.Messages {
		msg += ": " + m
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EdgePlatformError) Unwrap() error { return e.Err }

func (e *EdgePlatformError) HTTPStatus() int { return e.StatusCode }

// Retryable reports whether repeating the call later may succeed
func (e *EdgePlatformError) Retryable() bool {
	return IsTransientStatus(e.StatusCode)
}

func (e *EdgePlatformError) Is(target error) bool {
	_, ok := target.(*EdgePlatformError)
	return ok
}

// AlreadyExistsError represents a uniqueness violation
type AlreadyExistsError struct {
	Entity string
	Key    string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

func (e *AlreadyExistsError) Is(target error) bool {
	t, ok := target.(*AlreadyExistsError)
	if !ok {
		return false
	}
	return t.Entity == "" || e.Entity == t.Entity
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// RegistryError is a persistence failure (connection loss, query error) that
// none of the domain errors above describe.
type RegistryError struct {
	Op  string
	Err error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

func (e *RegistryError) Is(target error) bool {
	_, ok := target.(*RegistryError)
	return ok
}

// IsTransientStatus reports whether an HTTP status (0 meaning no response) is worth retrying.
func IsTransientStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= 500
}

var (
	ErrTenantNotFound          = &TenantNotFoundError{}
	ErrTenantExists            = &AlreadyExistsError{Entity: "tenant"}
	ErrDomainInvalid           = &DomainVerificationError{Kind: DomainInvalid}
	ErrDomainAlreadyRegistered = &DomainVerificationError{Kind: DomainAlreadyRegistered}
	ErrDomainRejected          = &DomainVerificationError{Kind: DomainRejected}
	ErrDomainNotFound          = &DomainVerificationError{Kind: DomainNotFound}
	ErrDeploymentPathNotFound  = &DeploymentError{Kind: DeploymentPathNotFound}
	ErrStorageUnavailable      = &DeploymentError{Kind: DeploymentStorageUnavailable}
	ErrObjectStore             = &ObjectStoreOperationError{}
	ErrEdgePlatform            = &EdgePlatformError{}
	ErrValidation              = &ValidationError{}
	ErrRegistry                = &RegistryError{}

	ErrObjectNotFound = errors.New("object not found")
)
