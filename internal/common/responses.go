// Package common holds the JSON error envelope shared by every API handler.
package common

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error codes carried in ErrorResponse.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeUpstream          = "UPSTREAM_ERROR"
	CodeServer            = "SERVER_ERROR"
	CodeClient            = "CLIENT_ERROR"
	CodeServiceNotReady   = "NOT_READY"
	CodeDeploymentInvalid = "DEPLOYMENT_ERROR"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details,omitempty"`
	} `json:"error"`
}

// CreateErrorResponse creates a standardized error response
func CreateErrorResponse(code string, message string, details map[string]string) *ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Details = details
	return &resp
}

func SendError(c echo.Context, status int, code, message string, details map[string]string) error {
	return c.JSON(status, CreateErrorResponse(code, message, details))
}

// SendValidationError sends a validation error response
func SendValidationError(c echo.Context, field, message string) error {
	var details map[string]string
	if field != "" {
		details = map[string]string{field: message}
	}
	return SendError(c, http.StatusBadRequest, CodeValidation, "Validation failed", details)
}

// SendClientError sends a client error response
func SendClientError(c echo.Context, message string) error {
	return SendError(c, http.StatusBadRequest, CodeClient, message, nil)
}

// SendServerError sends a server error response
func SendServerError(c echo.Context, message string) error {
	return SendError(c, http.StatusInternalServerError, CodeServer, message, nil)
}

// SendNotFoundError sends a not found error response
func SendNotFoundError(c echo.Context, resource string) error {
	return SendError(c, http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s not found", resource), nil)
}
