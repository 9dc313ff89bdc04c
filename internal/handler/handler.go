package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/middleware"
	apperrors "github.com/cedrick13bienvenue/prescripto-sub000/pkg/errors"
)

// StatusFor maps the error taxonomy to HTTP status codes. The services
// only ever decide the semantic kind; this is the single place where
// kinds become statuses.
func StatusFor(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrExpired:
		return http.StatusGone
	case apperrors.ErrAlreadyConsumed, apperrors.ErrInvalidStateTransition:
		return http.StatusConflict
	case apperrors.ErrConcurrencyConflict:
		return http.StatusConflict
	case apperrors.ErrValidationFailed:
		return http.StatusBadRequest
	case apperrors.ErrCorrupt:
		return http.StatusUnprocessableEntity
	case apperrors.ErrUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// AbortWithError writes the standard error envelope for a service error.
func AbortWithError(c *gin.Context, err error) {
	c.JSON(StatusFor(err), NewErrorResponse(err.Error()))
}

// ActorID extracts the authenticated actor from the request context.
func ActorID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(middleware.ContextActorID)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
