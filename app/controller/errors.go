package controller

import (
	"errors"
	"net/http"

	"github.com/nestya/auth-service/app/service"
)

// statusForError maps a domain error to the status code and user-safe message
// of the HTTP response. Unrecognized errors become a generic internal error
// so no storage or collaborator detail leaks to the caller.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUserExists):
		return http.StatusConflict, "An account with this email already exists."
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password."
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, "Refresh token was expired. Please make a new signin request"
	case errors.Is(err, service.ErrTokenNotFound):
		return http.StatusUnauthorized, "Refresh token not found"
	default:
		return http.StatusInternalServerError, "An unexpected error occurred. Please try again later."
	}
}
