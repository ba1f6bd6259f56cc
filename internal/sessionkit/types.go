package sessionkit

import "time"

// State enumerates the lifecycle states of the session controller.
type State string

const (
	// StateUninitialized means Initialize has not been invoked yet.
	StateUninitialized State = "UNINITIALIZED"
	// StateLoading means the initial backend session fetch is in flight.
	StateLoading State = "LOADING"
	// StateAuthenticated means an Identity is present and active.
	StateAuthenticated State = "AUTHENTICATED"
	// StateAnonymous means no Identity is active.
	StateAnonymous State = "ANONYMOUS"
)

// Identity is the authenticated principal as issued by the backend.
// It is immutable once issued and replaced wholesale on sign-in,
// sign-out, and refresh.
type Identity struct {
	ID             string
	Email          string
	AccessToken    string
	RefreshToken   string
	TokenIssuedAt  time.Time
	TokenExpiresAt time.Time
}

// Clone returns a copy so subscribers never share mutable state.
func (identity *Identity) Clone() *Identity {
	if identity == nil {
		return nil
	}
	cloned := *identity
	return &cloned
}

// Profile holds application-level user attributes keyed 1:1 by Identity id.
type Profile struct {
	ID          string
	Email       string
	FullName    string
	Tier        string
	Preferences map[string]string
	UpdatedAt   time.Time
}

// Clone returns a deep copy of the profile.
func (profile *Profile) Clone() *Profile {
	if profile == nil {
		return nil
	}
	cloned := *profile
	if profile.Preferences != nil {
		cloned.Preferences = make(map[string]string, len(profile.Preferences))
		for key, value := range profile.Preferences {
			cloned.Preferences[key] = value
		}
	}
	return &cloned
}

// Snapshot is an immutable view of the session store handed to readers.
type Snapshot struct {
	State     State
	Loading   bool
	Identity  *Identity
	Profile   *Profile
	LastError string
}

// AuthEventKind names the backend's session lifecycle notifications.
type AuthEventKind string

const (
	// EventSignedIn reports a completed sign-in.
	EventSignedIn AuthEventKind = "SIGNED_IN"
	// EventSignedOut reports a completed sign-out.
	EventSignedOut AuthEventKind = "SIGNED_OUT"
	// EventTokenRefreshed reports a successful token refresh.
	EventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
	// EventInitialSession reports the session discovered at startup.
	EventInitialSession AuthEventKind = "INITIAL_SESSION"
)

// AuthEvent is one notification from the backend's auth-event stream.
// A nil Identity reports that no session is active.
type AuthEvent struct {
	Kind     AuthEventKind
	Identity *Identity
}
