package sessionkit

import "errors"

var (
	// ErrNoActiveSession indicates an operation that requires an Identity ran without one.
	ErrNoActiveSession = errors.New("session.no_active_session")
	// ErrControllerClosed indicates the controller was closed and drops further updates.
	ErrControllerClosed = errors.New("session.controller_closed")
	// ErrMissingBackend indicates the controller was constructed without a backend.
	ErrMissingBackend = errors.New("session.missing_backend")
	// ErrProfileNotFound indicates no profile row exists yet for the Identity.
	ErrProfileNotFound = errors.New("session.profile_not_found")
)

// User-facing fallback messages, matching what the UI renders inline.
const (
	messageNoUserSignedIn      = "No user signed in"
	messageFailedSignUp        = "Failed to create account"
	messageFailedSignIn        = "Failed to sign in"
	messageFailedSignOut       = "Failed to sign out"
	messageFailedGetSession    = "Failed to get session"
	messageFailedFetchProfile  = "Failed to fetch user profile"
	messageFailedUpdateProfile = "Failed to update profile"
	messageFailedResetEmail    = "Failed to send reset email"
	messageFailedUpdatePass    = "Failed to update password"
)

// BackendError carries an error the backend service reported in-band,
// as opposed to a transport failure. Message is surfaced verbatim as
// the Session Error.
type BackendError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (backendErr *BackendError) Error() string {
	if backendErr.Code != "" {
		return backendErr.Code + ": " + backendErr.Message
	}
	return backendErr.Message
}

// errorMessage returns the backend's verbatim message when available,
// else the supplied user-facing fallback.
func errorMessage(err error, fallback string) string {
	var backendErr *BackendError
	if errors.As(err, &backendErr) && backendErr.Message != "" {
		return backendErr.Message
	}
	return fallback
}
