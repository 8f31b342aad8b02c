// Package exitcode defines exit codes for the CLI.
package exitcode

import "taskchat/internal/apperr"

const (
	// Success indicates successful completion.
	Success = 0

	// UserError indicates a user error (bad args, rejected input, not found).
	UserError = 1

	// AuthError indicates an auth/session error.
	AuthError = 2

	// BackendError indicates a backend/API/network error.
	BackendError = 3
)

// For maps an error to its exit code.
func For(err error) int {
	if err == nil {
		return Success
	}
	switch apperr.KindOf(err) {
	case apperr.ValidationError:
		return UserError
	case apperr.NotAuthenticated, apperr.InvalidCredentials, apperr.SessionExpired,
		apperr.LoginFailed, apperr.RegistrationFailed, apperr.InvalidServerResponse:
		return AuthError
	default:
		return BackendError
	}
}
