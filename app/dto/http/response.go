package http

import (
	nethttp "net/http"
	"time"
)

type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
}

// NewErrorResponse stamps the body with the current time and the standard
// reason phrase for the status.
func NewErrorResponse(status int, message string) ErrorResponse {
	return ErrorResponse{
		Timestamp: time.Now(),
		Status:    status,
		Error:     nethttp.StatusText(status),
		Message:   message,
	}
}
