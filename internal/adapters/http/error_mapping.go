package httpadapter

import (
	"net/http"

	"github.com/Trivonta/compress-classify/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrCategoryNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrUndetermined):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
