package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/evidence-journal/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrEntryNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidTransition),
		domain.IsKind(err, domain.ErrStatusConflict),
		domain.IsKind(err, domain.ErrDuplicateHash):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrExtractionFailed):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
