package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsMatchByKind(t *testing.T) {
	wrapped := fmt.Errorf("add domain: %w", &DomainVerificationError{Domain: "a.com", Kind: DomainAlreadyRegistered})

	assert.ErrorIs(t, wrapped, ErrDomainAlreadyRegistered)
	assert.NotErrorIs(t, wrapped, ErrDomainInvalid)
	assert.ErrorIs(t, wrapped, &DomainVerificationError{})

	assert.ErrorIs(t, &TenantNotFoundError{TenantID: "tenant-x"}, ErrTenantNotFound)
	assert.ErrorIs(t, &AlreadyExistsError{Entity: "tenant", Key: "acme"}, ErrTenantExists)
	assert.NotErrorIs(t, &AlreadyExistsError{Entity: "domain", Key: "a.com"}, ErrTenantExists)
	assert.ErrorIs(t, &ValidationError{Field: "name"}, ErrValidation)
}

func TestDeploymentErrorUnwraps(t *testing.T) {
	storeErr := &ObjectStoreOperationError{Op: "put", Key: "tenant-a/index.html", StatusCode: http.StatusServiceUnavailable}
	err := &DeploymentError{Kind: DeploymentStorageUnavailable, TenantID: "tenant-a", Err: storeErr}

	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, err, ErrObjectStore)
	assert.NotErrorIs(t, err, ErrDeploymentPathNotFound)

	var target *ObjectStoreOperationError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, http.StatusServiceUnavailable, target.HTTPStatus())
	assert.Contains(t, err.Error(), "storage-unavailable")
	assert.Contains(t, err.Error(), "status 503")
}

func TestEdgePlatformError(t *testing.T) {
	err := &EdgePlatformError{Op: "create-custom-hostname", StatusCode: http.StatusConflict, Codes: []int{1406}, Messages: []string{"duplicate"}}

	assert.True(t, err.HasCode(1406))
	assert.False(t, err.HasCode(1000))
	assert.False(t, err.Retryable())
	assert.Equal(t, "edge platform create-custom-hostname (status 409): duplicate", err.Error())
	assert.ErrorIs(t, fmt.Errorf("wrap: %w", err), ErrEdgePlatform)

	assert.True(t, (&EdgePlatformError{StatusCode: http.StatusBadGateway}).Retryable())
}

func TestRegistryError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("wrap: %w", &RegistryError{Op: "list tenants", Err: cause})

	assert.ErrorIs(t, err, ErrRegistry)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTenantNotFound)
	assert.Equal(t, "wrap: registry list tenants: connection refused", err.Error())
}

func TestIsTransientStatus(t *testing.T) {
	for code, want := range map[int]bool{
		0:                              true,
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusServiceUnavailable:  true,
		http.StatusBadRequest:          false,
		http.StatusNotFound:            false,
		http.StatusConflict:            false,
	} {
		assert.Equal(t, want, IsTransientStatus(code), "status %d", code)
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "tenant not found", ErrTenantNotFound.Error())
	assert.Equal(t, "tenant tenant-x not found", (&TenantNotFoundError{TenantID: "tenant-x"}).Error())
	assert.Equal(t, "domain a.com: invalid: bad label", (&DomainVerificationError{Domain: "a.com", Kind: DomainInvalid, Reason: "bad label"}).Error())
	assert.Equal(t, "validation error: name - required", (&ValidationError{Field: "name", Message: "required"}).Error())
	assert.Equal(t, "deployment path-not-found (/srv/site)", (&DeploymentError{Kind: DeploymentPathNotFound, Path: "/srv/site"}).Error())
}
