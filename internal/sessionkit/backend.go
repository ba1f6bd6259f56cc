package sessionkit

import "context"

// Backend is the external auth/data service consumed by the controller.
// Every operation returns the backend's canonical data or an error;
// *BackendError wraps failures the service reported in-band. Swapping
// the backend requires only reimplementing this contract.
type Backend interface {
	// GetSession returns the currently persisted session, or nil when none exists.
	GetSession(ctx context.Context) (*Identity, error)
	// SignUp registers a new account. The account may require external
	// confirmation before it can sign in, so no Identity is implied.
	SignUp(ctx context.Context, email string, password string, attributes map[string]string) (*Identity, error)
	// SignInWithPassword exchanges credentials for a session.
	SignInWithPassword(ctx context.Context, email string, password string) (*Identity, error)
	// SignOut terminates the active session.
	SignOut(ctx context.Context) error
	// RefreshSession renews the active session's tokens.
	RefreshSession(ctx context.Context) (*Identity, error)
	// GetProfile loads the profile row keyed by the user id.
	// Returns ErrProfileNotFound when no row exists yet.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	// UpdateProfile persists partial attributes merged server-side and
	// returns the server's canonical record.
	UpdateProfile(ctx context.Context, userID string, updates map[string]any) (*Profile, error)
	// SendPasswordReset emails a reset link pointing back at redirectTo.
	SendPasswordReset(ctx context.Context, email string, redirectTo string) error
	// UpdatePassword replaces the active user's password.
	UpdatePassword(ctx context.Context, newPassword string) error
	// Events exposes the auth-event notification stream. Events are the
	// single source of truth for controller state transitions.
	Events() <-chan AuthEvent
}
