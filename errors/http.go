package errors

import (
	stderrors "errors"
	"net/http"
)

// MapToHTTPStatus translates a sentinel error into the status code returned by the admin API.
func MapToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case stderrors.Is(err, ErrInvalidToken), stderrors.Is(err, ErrIdentityUnresolved),
		stderrors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case stderrors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case stderrors.Is(err, ErrConversationNotFound), stderrors.Is(err, ErrMessageNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrJobBooked), stderrors.Is(err, ErrConversationClosed),
		stderrors.Is(err, ErrInvalidStatusTransition), stderrors.Is(err, ErrRoleMismatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
