package dto

// AuthResult pairs a freshly signed access token with the refresh token that
// renews it. It is handed to the caller once and never persisted.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
}
