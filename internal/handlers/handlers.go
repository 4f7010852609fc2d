// Package handlers exposes the platform facade over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"edgesites/internal/common"
	apperrors "edgesites/internal/errors"
)

// requestValidator plugs validator/v10 into echo's Bind/Validate.
type requestValidator struct {
	validate *validator.Validate
}

func NewValidator() echo.Validator {
	return &requestValidator{validate: validator.New()}
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

// bindAndValidate binds the request into req and runs struct validation,
// writing a 400 response on failure. The returned bool reports success.
func bindAndValidate(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, common.SendClientError(c, "Invalid request format")
	}
	if err := c.Validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[strings.ToLower(fe.Field())] = "failed " + fe.Tag() + " validation"
			}
			return false, common.SendError(c, http.StatusBadRequest, common.CodeValidation, "Validation failed", details)
		}
		return false, common.SendValidationError(c, "", err.Error())
	}
	return true, nil
}

// respondError maps a taxonomy error to its HTTP status and error envelope.
func respondError(c echo.Context, logger *zap.Logger, err error) error {
	var (
		notFound  *apperrors.TenantNotFoundError
		domainErr *apperrors.DomainVerificationError
		deployErr *apperrors.DeploymentError
		storeErr  *apperrors.ObjectStoreOperationError
		edgeErr   *apperrors.EdgePlatformError
		existsErr *apperrors.AlreadyExistsError
		invalid   *apperrors.ValidationError
		regErr    *apperrors.RegistryError
	)

	switch {
	case errors.As(err, &invalid):
		return common.SendValidationError(c, invalid.Field, invalid.Message)
	case errors.As(err, &notFound):
		return common.SendError(c, http.StatusNotFound, common.CodeNotFound, err.Error(), nil)
	case errors.As(err, &existsErr):
		return common.SendError(c, http.StatusConflict, common.CodeConflict, err.Error(), nil)
	case errors.As(err, &domainErr):
		switch domainErr.Kind {
		case apperrors.DomainNotFound:
			return common.SendError(c, http.StatusNotFound, common.CodeNotFound, err.Error(), nil)
		case apperrors.DomainAlreadyRegistered:
			return common.SendError(c, http.StatusConflict, common.CodeConflict, err.Error(), nil)
		case apperrors.DomainRejected:
			return common.SendError(c, http.StatusUnprocessableEntity, common.CodeClient, err.Error(), nil)
		default:
			return common.SendValidationError(c, "domain", domainErr.Reason)
		}
	case errors.As(err, &deployErr):
		if deployErr.Kind == apperrors.DeploymentPathNotFound {
			return common.SendError(c, http.StatusBadRequest, common.CodeDeploymentInvalid, err.Error(), map[string]string{"local_path": deployErr.Path})
		}
		logger.Error("deployment failed", zap.Error(err))
		return common.SendError(c, http.StatusBadGateway, common.CodeUpstream, err.Error(), nil)
	case errors.As(err, &edgeErr), errors.As(err, &storeErr):
		logger.Error("upstream call failed", zap.Error(err))
		return common.SendError(c, http.StatusBadGateway, common.CodeUpstream, err.Error(), nil)
	case errors.As(err, &regErr):
		logger.Error("registry unavailable", zap.String("op", regErr.Op), zap.Error(err))
		return common.SendError(c, http.StatusServiceUnavailable, common.CodeServiceNotReady, "registry unavailable", nil)
	case errors.Is(err, context.DeadlineExceeded):
		return common.SendError(c, http.StatusGatewayTimeout, common.CodeUpstream, "request timed out", nil)
	}

	logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
	return common.SendServerError(c, "Internal server error")
}
