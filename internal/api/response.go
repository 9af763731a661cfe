package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/dokterku/presensi/internal/common/errors"
	"github.com/dokterku/presensi/internal/common/middleware"
	"github.com/dokterku/presensi/internal/common/validation"
	"github.com/dokterku/presensi/internal/geo"
	"github.com/dokterku/presensi/internal/presensi"
	"github.com/dokterku/presensi/internal/review"
)

// Response is the success envelope
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success:   true,
		Data:      data,
		RequestID: c.GetString(middleware.ContextRequestID),
	})
}

func respondOK(c *gin.Context, data interface{}) {
	respond(c, http.StatusOK, data)
}

// toAppError maps domain errors onto API errors
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	var fieldErrs *validation.Errors
	var fieldErr *validation.FieldError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &fieldErrs):
		return apperrors.ValidationError(fieldErrs.Error()).WithMetadata("fields", fieldErrs.Fields)
	case errors.As(err, &fieldErr):
		return apperrors.ValidationError(fieldErr.Error())
	case errors.Is(err, geo.ErrInvalidCoordinate):
		return apperrors.InvalidCoordinate(err)
	case errors.Is(err, presensi.ErrZoneNotFound):
		return apperrors.ZoneNotFound(err)
	case errors.Is(err, presensi.ErrZoneLookupTimeout):
		return apperrors.ZoneLookupTimeout(err)
	case errors.Is(err, presensi.ErrInvalidAttendanceType):
		return apperrors.ValidationError(err.Error())
	case errors.Is(err, presensi.ErrDuplicateVerdict):
		return apperrors.DuplicateAttendance(nil)
	case errors.Is(err, presensi.ErrSubmissionInFlight):
		return apperrors.SubmissionInFlight()
	case errors.Is(err, presensi.ErrVerdictNotFound):
		return apperrors.VerdictNotFound(err)
	case errors.Is(err, review.ErrInvalidDecision):
		return apperrors.InvalidDecision(err)
	default:
		return apperrors.Internal("An unexpected error occurred", err)
	}
}

func handleError(c *gin.Context, err error) {
	apperrors.HandleError(c, toAppError(err))
}
