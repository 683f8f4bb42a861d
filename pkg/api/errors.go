package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/tarsy/pkg/models"
)

// writeError maps a domain error to the HTTP status codes spec.md §6 names
// (409 duplicate push, 410 lease expired, 422 contract/guard violation, 404
// not found) and writes the JSON error body. Grounded on pkg/api/errors.go's
// mapServiceError, adapted from echo.HTTPError to gin's c.JSON, and from
// services.Err* to this module's pkg/models.Err* sentinels.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrDuplicatePush):
		status = http.StatusConflict
	case errors.Is(err, models.ErrLeaseExpired), errors.Is(err, models.ErrLeaseConflict):
		status = http.StatusGone
	case isGuardOrContractFailure(err), errors.Is(err, models.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}

func isGuardOrContractFailure(err error) bool {
	var guardFailure *models.GuardFailure
	var parseFailure *models.ParseFailure
	return errors.As(err, &guardFailure) || errors.As(err, &parseFailure)
}
