package sessionkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeBackend struct {
	mutex         sync.Mutex
	events        chan AuthEvent
	session       *Identity
	profiles      map[string]*Profile
	email         string
	password      string
	getSessionErr error
	signInErr     error
	signUpErr     error
	signOutErr    error
	refreshErr    error
	profileErr    error
	updateErr     error
	networkCalls  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		events:   make(chan AuthEvent, 16),
		profiles: make(map[string]*Profile),
	}
}

func (backend *fakeBackend) countCall() {
	backend.mutex.Lock()
	backend.networkCalls++
	backend.mutex.Unlock()
}

func (backend *fakeBackend) callCount() int {
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	return backend.networkCalls
}

func (backend *fakeBackend) GetSession(ctx context.Context) (*Identity, error) {
	backend.countCall()
	if backend.getSessionErr != nil {
		return nil, backend.getSessionErr
	}
	return backend.session.Clone(), nil
}

func (backend *fakeBackend) SignUp(ctx context.Context, email string, password string, attributes map[string]string) (*Identity, error) {
	backend.countCall()
	if backend.signUpErr != nil {
		return nil, backend.signUpErr
	}
	return nil, nil
}

func (backend *fakeBackend) SignInWithPassword(ctx context.Context, email string, password string) (*Identity, error) {
	backend.countCall()
	if backend.signInErr != nil {
		return nil, backend.signInErr
	}
	if email != backend.email || password != backend.password {
		return nil, &BackendError{Message: "Invalid login credentials", Status: 400}
	}
	identity := &Identity{ID: "U123", Email: email, AccessToken: "token-1"}
	backend.mutex.Lock()
	backend.session = identity
	backend.mutex.Unlock()
	backend.events <- AuthEvent{Kind: EventSignedIn, Identity: identity.Clone()}
	return identity.Clone(), nil
}

func (backend *fakeBackend) SignOut(ctx context.Context) error {
	backend.countCall()
	backend.mutex.Lock()
	backend.session = nil
	backend.mutex.Unlock()
	backend.events <- AuthEvent{Kind: EventSignedOut, Identity: nil}
	return backend.signOutErr
}

func (backend *fakeBackend) RefreshSession(ctx context.Context) (*Identity, error) {
	backend.countCall()
	if backend.refreshErr != nil {
		return nil, backend.refreshErr
	}
	backend.mutex.Lock()
	identity := backend.session.Clone()
	backend.mutex.Unlock()
	backend.events <- AuthEvent{Kind: EventTokenRefreshed, Identity: identity.Clone()}
	return identity, nil
}

func (backend *fakeBackend) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	backend.countCall()
	if backend.profileErr != nil {
		return nil, backend.profileErr
	}
	profile, ok := backend.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return profile.Clone(), nil
}

func (backend *fakeBackend) UpdateProfile(ctx context.Context, userID string, updates map[string]any) (*Profile, error) {
	backend.countCall()
	if backend.updateErr != nil {
		return nil, backend.updateErr
	}
	profile, ok := backend.profiles[userID]
	if !ok {
		return nil, &BackendError{Message: "profile missing", Status: 404}
	}
	canonical := profile.Clone()
	if tier, present := updates["tier"].(string); present {
		canonical.Tier = tier
	}
	backend.profiles[userID] = canonical
	return canonical.Clone(), nil
}

func (backend *fakeBackend) SendPasswordReset(ctx context.Context, email string, redirectTo string) error {
	backend.countCall()
	return nil
}

func (backend *fakeBackend) UpdatePassword(ctx context.Context, newPassword string) error {
	backend.countCall()
	return nil
}

func (backend *fakeBackend) Events() <-chan AuthEvent {
	return backend.events
}

func newTestController(t *testing.T, backend Backend) *Controller {
	t.Helper()
	controller, err := NewController(ControllerConfig{
		Backend: backend,
		Logger:  zaptest.NewLogger(t),
		Metrics: NewCounterMetrics(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(controller.Close)
	return controller
}

func waitForSnapshot(t *testing.T, controller *Controller, accept func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snapshot := controller.Snapshot()
		if accept(snapshot) {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for snapshot, last state %s", controller.State())
	return Snapshot{}
}

func TestSignInEventHydratesProfileAndClearsError(t *testing.T) {
	backend := newFakeBackend()
	backend.email = "fatima.ali@email.com"
	backend.password = "MyPassword456"
	backend.profiles["U123"] = &Profile{ID: "U123", FullName: "Fatima Ali", Tier: "intention"}

	controller := newTestController(t, backend)
	controller.Start(context.Background())

	if _, err := controller.SignIn(context.Background(), "fatima.ali@email.com", "wrong"); err == nil {
		t.Fatalf("expected error for bad credentials")
	}
	if controller.Snapshot().LastError != "Invalid login credentials" {
		t.Fatalf("expected verbatim backend error, got %q", controller.Snapshot().LastError)
	}

	if _, err := controller.SignIn(context.Background(), "fatima.ali@email.com", "MyPassword456"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	snapshot := waitForSnapshot(t, controller, func(current Snapshot) bool {
		return current.State == StateAuthenticated && current.Profile != nil
	})
	if snapshot.Identity == nil || snapshot.Identity.ID != "U123" {
		t.Fatalf("expected identity U123, got %+v", snapshot.Identity)
	}
	if snapshot.Profile.FullName != "Fatima Ali" {
		t.Fatalf("expected hydrated profile, got %+v", snapshot.Profile)
	}
	if snapshot.LastError != "" {
		t.Fatalf("expected cleared session error, got %q", snapshot.LastError)
	}
}

func TestSignInCallResultDoesNotTransitionState(t *testing.T) {
	backend := newFakeBackend()
	backend.email = "fatima.ali@email.com"
	backend.password = "MyPassword456"
	// Swallow the event stream so only the direct call result is visible.
	controller := newTestController(t, backend)

	if _, err := controller.SignIn(context.Background(), "fatima.ali@email.com", "MyPassword456"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if state := controller.State(); state == StateAuthenticated {
		t.Fatalf("sign-in call must not transition state without the event, got %s", state)
	}
}

func TestUpdateProfileWithoutSessionFailsWithoutNetworkCall(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	controller := newTestController(t, backend)

	calls := backend.callCount()
	profile, err := controller.UpdateProfile(context.Background(), map[string]any{"tier": "patience"})
	if profile != nil {
		t.Fatalf("expected nil profile, got %+v", profile)
	}
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if controller.Snapshot().LastError != "No user signed in" {
		t.Fatalf("expected session error %q, got %q", "No user signed in", controller.Snapshot().LastError)
	}
	if backend.callCount() != calls {
		t.Fatalf("expected no network call, backend saw %d", backend.callCount()-calls)
	}
}

func TestUpdateProfileReplacesCacheWithCanonicalResponse(t *testing.T) {
	backend := newFakeBackend()
	backend.email = "fatima.ali@email.com"
	backend.password = "MyPassword456"
	backend.profiles["U123"] = &Profile{ID: "U123", FullName: "Fatima Ali", Tier: "intention"}

	controller := newTestController(t, backend)
	controller.Start(context.Background())
	if _, err := controller.SignIn(context.Background(), "fatima.ali@email.com", "MyPassword456"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	waitForSnapshot(t, controller, func(current Snapshot) bool { return current.Profile != nil })

	updated, err := controller.UpdateProfile(context.Background(), map[string]any{"tier": "patience"})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Tier != "patience" {
		t.Fatalf("expected canonical tier patience, got %q", updated.Tier)
	}
	if cached := controller.Snapshot().Profile; cached == nil || cached.Tier != "patience" {
		t.Fatalf("expected cached profile replaced with canonical response, got %+v", cached)
	}
}

func TestRefreshFailureForcesSignOut(t *testing.T) {
	backend := newFakeBackend()
	backend.email = "fatima.ali@email.com"
	backend.password = "MyPassword456"

	controller := newTestController(t, backend)
	controller.Start(context.Background())
	if _, err := controller.SignIn(context.Background(), "fatima.ali@email.com", "MyPassword456"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	waitForSnapshot(t, controller, func(current Snapshot) bool { return current.State == StateAuthenticated })

	backend.refreshErr = errors.New("network unreachable")
	if controller.RefreshSession(context.Background()) {
		t.Fatalf("expected refresh failure to report false")
	}
	snapshot := waitForSnapshot(t, controller, func(current Snapshot) bool { return current.State == StateAnonymous })
	if snapshot.Identity != nil {
		t.Fatalf("expected identity absent after failed refresh, got %+v", snapshot.Identity)
	}
}

func TestProfileLifecycleBoundedBySignInAndSignOut(t *testing.T) {
	backend := newFakeBackend()
	backend.email = "fatima.ali@email.com"
	backend.password = "MyPassword456"
	backend.profiles["U123"] = &Profile{ID: "U123", FullName: "Fatima Ali"}

	controller := newTestController(t, backend)
	controller.Start(context.Background())

	if controller.Snapshot().Profile != nil {
		t.Fatalf("profile must be nil before sign-in")
	}
	if _, err := controller.SignIn(context.Background(), "fatima.ali@email.com", "MyPassword456"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	waitForSnapshot(t, controller, func(current Snapshot) bool { return current.Profile != nil })

	if err := controller.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	snapshot := waitForSnapshot(t, controller, func(current Snapshot) bool { return current.State == StateAnonymous })
	if snapshot.Profile != nil {
		t.Fatalf("profile must be nil after sign-out, got %+v", snapshot.Profile)
	}
}

func TestDuplicateTokenRefreshedEventsAreIdempotent(t *testing.T) {
	backend := newFakeBackend()
	backend.profiles["U123"] = &Profile{ID: "U123", FullName: "Fatima Ali", Tier: "intention"}
	controller := newTestController(t, backend)

	identity := &Identity{ID: "U123", Email: "fatima.ali@email.com", AccessToken: "token-2"}
	controller.handleAuthEvent(context.Background(), AuthEvent{Kind: EventTokenRefreshed, Identity: identity})
	first := controller.Snapshot()

	controller.handleAuthEvent(context.Background(), AuthEvent{Kind: EventTokenRefreshed, Identity: identity})
	second := controller.Snapshot()

	if first.Profile == nil || second.Profile == nil {
		t.Fatalf("expected hydrated profile on both snapshots")
	}
	if first.Profile.FullName != second.Profile.FullName || first.Profile.Tier != second.Profile.Tier {
		t.Fatalf("expected unchanged profile, got %+v then %+v", first.Profile, second.Profile)
	}
	controller.mutex.Lock()
	timerCount := 0
	if controller.refreshTimer != nil {
		timerCount = 1
	}
	controller.mutex.Unlock()
	if timerCount != 1 {
		t.Fatalf("expected exactly one refresh timer, got %d", timerCount)
	}
}

func TestInitializeFailureTerminatesAnonymousWithError(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.getSessionErr = errors.New("backend down")
	controller := newTestController(t, backend)

	if err := controller.Initialize(context.Background()); err == nil {
		t.Fatalf("expected initialize error")
	}
	snapshot := controller.Snapshot()
	if snapshot.State != StateAnonymous {
		t.Fatalf("expected ANONYMOUS after failed initialize, got %s", snapshot.State)
	}
	if snapshot.Loading {
		t.Fatalf("loading flag must reset on every path")
	}
	if snapshot.LastError == "" {
		t.Fatalf("expected session error after failed initialize")
	}
}

func TestInitializeHydratesExistingSession(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.session = &Identity{ID: "U123", Email: "fatima.ali@email.com"}
	backend.profiles["U123"] = &Profile{ID: "U123", FullName: "Fatima Ali"}
	controller := newTestController(t, backend)

	if err := controller.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	snapshot := controller.Snapshot()
	if snapshot.State != StateAuthenticated {
		t.Fatalf("expected AUTHENTICATED, got %s", snapshot.State)
	}
	if snapshot.Profile == nil || snapshot.Profile.FullName != "Fatima Ali" {
		t.Fatalf("expected hydrated profile, got %+v", snapshot.Profile)
	}
}

func TestProfileNotFoundIsSuppressed(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.session = &Identity{ID: "U999", Email: "new.user@email.com"}
	controller := newTestController(t, backend)

	if err := controller.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	snapshot := controller.Snapshot()
	if snapshot.Profile != nil {
		t.Fatalf("expected nil profile for fresh account, got %+v", snapshot.Profile)
	}
	if snapshot.LastError != "" {
		t.Fatalf("row-not-found must not surface as a session error, got %q", snapshot.LastError)
	}
}

func TestSignUpResetsLoadingOnFailure(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.signUpErr = &BackendError{Message: "User already registered", Status: 422}
	controller := newTestController(t, backend)

	if _, err := controller.SignUp(context.Background(), "fatima.ali@email.com", "MyPassword456", nil); err == nil {
		t.Fatalf("expected sign-up error")
	}
	snapshot := controller.Snapshot()
	if snapshot.Loading {
		t.Fatalf("loading flag stuck true after failed sign-up")
	}
	if snapshot.LastError != "User already registered" {
		t.Fatalf("expected verbatim backend error, got %q", snapshot.LastError)
	}
}

func TestClosedControllerDropsLateUpdates(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	controller := newTestController(t, backend)
	controller.Close()

	controller.handleAuthEvent(context.Background(), AuthEvent{
		Kind:     EventSignedIn,
		Identity: &Identity{ID: "U123"},
	})
	if snapshot := controller.Snapshot(); snapshot.Identity != nil {
		t.Fatalf("closed controller must drop updates, got %+v", snapshot.Identity)
	}
}
