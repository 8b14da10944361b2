package domain

// UserInfo is the authenticated-user payload returned by the backend's
// login and /auth/me endpoints. The credential itself never appears
// here: it lives in HttpOnly cookies the client cannot read.
type UserInfo struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// APIError is the structured error body the backend returns for
// authentication failures. Optional fields are omitted by the server
// when not applicable.
type APIError struct {
	Error             string `json:"error"`
	Message           string `json:"message,omitempty"`
	RemainingAttempts *int   `json:"remainingAttempts,omitempty"`
	RetryAfterSeconds *int64 `json:"retryAfterSeconds,omitempty"`
}
