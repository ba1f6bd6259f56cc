package sessionkit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRefreshInterval precedes the backend's 30-minute token expiry
// with a safety margin.
const DefaultRefreshInterval = 25 * time.Minute

// ControllerConfig configures a session Controller.
type ControllerConfig struct {
	Backend                  Backend
	Logger                   *zap.Logger
	Metrics                  MetricsRecorder
	Clock                    Clock
	RefreshInterval          time.Duration
	PasswordResetRedirectURL string
}

// Controller owns the session state machine: it is the sole writer of
// the Identity, Profile, Session Error, and Refresh Timer. Direct call
// results are used only for error reporting; the backend's auth-event
// stream is authoritative for state transitions. Collapsing the two
// reintroduces a race between the sign-in response and the event that
// confirms the session, so keep them separate.
type Controller struct {
	backend         Backend
	logger          *zap.Logger
	metrics         MetricsRecorder
	clock           Clock
	refreshInterval time.Duration
	resetRedirect   string

	mutex            sync.Mutex
	state            State
	loading          bool
	identity         *Identity
	profile          *Profile
	lastError        string
	refreshTimer     *time.Timer
	subscribers      map[int]chan Snapshot
	nextSubscriberID int
	closed           bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewController constructs a Controller in the UNINITIALIZED state.
func NewController(configuration ControllerConfig) (*Controller, error) {
	if configuration.Backend == nil {
		return nil, ErrMissingBackend
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := configuration.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	clock := configuration.Clock
	if clock == nil {
		clock = NewSystemClock()
	}
	refreshInterval := configuration.RefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return &Controller{
		backend:         configuration.Backend,
		logger:          logger,
		metrics:         metrics,
		clock:           clock,
		refreshInterval: refreshInterval,
		resetRedirect:   configuration.PasswordResetRedirectURL,
		state:           StateUninitialized,
		loading:         true,
		subscribers:     make(map[int]chan Snapshot),
		done:            make(chan struct{}),
	}, nil
}

// Start consumes the backend's auth-event stream until the context is
// cancelled or the controller is closed.
func (controller *Controller) Start(ctx context.Context) {
	go func() {
		events := controller.backend.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case <-controller.done:
				return
			case event, open := <-events:
				if !open {
					return
				}
				controller.metrics.Increment(MetricEventDelivered)
				controller.handleAuthEvent(context.Background(), event)
			}
		}
	}()
}

// Close drops all further state updates. Late results from in-flight
// operations are discarded rather than applied.
func (controller *Controller) Close() {
	controller.mutex.Lock()
	controller.closed = true
	controller.stopRefreshTimerLocked()
	controller.mutex.Unlock()
	controller.closeOnce.Do(func() { close(controller.done) })
}

// Initialize requests the current backend session and always terminates
// in a non-LOADING state, including on fetch failure.
func (controller *Controller) Initialize(ctx context.Context) error {
	controller.mutex.Lock()
	if controller.closed {
		controller.mutex.Unlock()
		return ErrControllerClosed
	}
	controller.state = StateLoading
	controller.loading = true
	controller.broadcastLocked()
	controller.mutex.Unlock()

	defer func() {
		controller.mutex.Lock()
		if !controller.closed {
			controller.loading = false
			if controller.state == StateLoading {
				controller.state = StateAnonymous
			}
			controller.broadcastLocked()
		}
		controller.mutex.Unlock()
	}()

	identity, sessionErr := controller.backend.GetSession(ctx)
	controller.mutex.Lock()
	if controller.closed {
		controller.mutex.Unlock()
		return nil
	}
	if sessionErr != nil {
		controller.state = StateAnonymous
		controller.lastError = errorMessage(sessionErr, messageFailedGetSession)
		controller.broadcastLocked()
		controller.mutex.Unlock()
		return sessionErr
	}
	if identity == nil {
		controller.identity = nil
		controller.state = StateAnonymous
		controller.broadcastLocked()
		controller.mutex.Unlock()
		return nil
	}
	controller.identity = identity.Clone()
	controller.state = StateAuthenticated
	controller.ensureRefreshTimerLocked()
	controller.broadcastLocked()
	userID := identity.ID
	controller.mutex.Unlock()

	controller.hydrateProfile(ctx, userID)
	return nil
}

// SignUp delegates registration to the backend. It does not transition
// session state: activation may require external confirmation.
func (controller *Controller) SignUp(ctx context.Context, email string, password string, attributes map[string]string) (*Identity, error) {
	controller.setLoading(true)
	defer controller.setLoading(false)

	identity, signUpErr := controller.backend.SignUp(ctx, email, password, attributes)
	if signUpErr != nil {
		controller.metrics.Increment(MetricSignUpFailed)
		controller.recordError(errorMessage(signUpErr, messageFailedSignUp))
		return nil, signUpErr
	}
	controller.metrics.Increment(MetricSignUp)
	return identity, nil
}

// SignIn delegates to the backend. On success the subsequent SIGNED_IN
// event, not this return value, transitions the state machine.
func (controller *Controller) SignIn(ctx context.Context, email string, password string) (*Identity, error) {
	controller.setLoading(true)
	defer controller.setLoading(false)

	identity, signInErr := controller.backend.SignInWithPassword(ctx, email, password)
	if signInErr != nil {
		controller.metrics.Increment(MetricSignInFailed)
		controller.recordError(errorMessage(signInErr, messageFailedSignIn))
		return nil, signInErr
	}
	controller.metrics.Increment(MetricSignIn)
	return identity, nil
}

// SignOut cancels the refresh timer, clears the profile and session
// error regardless of the backend call's outcome, and relies on the
// SIGNED_OUT event to finalize the ANONYMOUS transition.
func (controller *Controller) SignOut(ctx context.Context) error {
	controller.mutex.Lock()
	controller.stopRefreshTimerLocked()
	controller.profile = nil
	controller.lastError = ""
	controller.broadcastLocked()
	controller.mutex.Unlock()

	if signOutErr := controller.backend.SignOut(ctx); signOutErr != nil {
		controller.recordError(errorMessage(signOutErr, messageFailedSignOut))
		return signOutErr
	}
	controller.metrics.Increment(MetricSignOut)
	return nil
}

// RefreshSession renews the session and reports success. Backend
// failure is fatal for the current session and forces a sign-out; a
// stale timer retrying against an invalid session would loop forever.
func (controller *Controller) RefreshSession(ctx context.Context) bool {
	_, refreshErr := controller.backend.RefreshSession(ctx)
	if refreshErr != nil {
		controller.metrics.Increment(MetricRefreshFailed)
		controller.logger.Error("session refresh failed",
			zap.String("code", "session.refresh.failed"),
			zap.Error(refreshErr))
		_ = controller.SignOut(ctx)
		return false
	}
	controller.metrics.Increment(MetricRefresh)
	return true
}

// UpdateProfile persists partial attributes for the active Identity and
// replaces the cached Profile with the server's canonical response.
// Without an active Identity it fails synchronously, no network call.
func (controller *Controller) UpdateProfile(ctx context.Context, updates map[string]any) (*Profile, error) {
	controller.mutex.Lock()
	if controller.closed {
		controller.mutex.Unlock()
		return nil, ErrControllerClosed
	}
	controller.lastError = ""
	if controller.identity == nil {
		controller.lastError = messageNoUserSignedIn
		controller.broadcastLocked()
		controller.mutex.Unlock()
		return nil, ErrNoActiveSession
	}
	userID := controller.identity.ID
	controller.mutex.Unlock()

	canonical, updateErr := controller.backend.UpdateProfile(ctx, userID, updates)
	if updateErr != nil {
		controller.recordError(errorMessage(updateErr, messageFailedUpdateProfile))
		return nil, updateErr
	}

	controller.mutex.Lock()
	if !controller.closed && controller.identity != nil && controller.identity.ID == userID {
		controller.profile = canonical.Clone()
		controller.broadcastLocked()
	}
	controller.mutex.Unlock()
	controller.metrics.Increment(MetricProfileUpdate)
	return canonical, nil
}

// ResetPassword requests a password-reset email for the address.
func (controller *Controller) ResetPassword(ctx context.Context, email string) error {
	controller.clearError()
	if resetErr := controller.backend.SendPasswordReset(ctx, email, controller.resetRedirect); resetErr != nil {
		controller.recordError(errorMessage(resetErr, messageFailedResetEmail))
		return resetErr
	}
	return nil
}

// UpdatePassword replaces the active user's password.
func (controller *Controller) UpdatePassword(ctx context.Context, newPassword string) error {
	controller.clearError()
	if updateErr := controller.backend.UpdatePassword(ctx, newPassword); updateErr != nil {
		controller.recordError(errorMessage(updateErr, messageFailedUpdatePass))
		return updateErr
	}
	return nil
}

// ClearError dismisses the current Session Error.
func (controller *Controller) ClearError() {
	controller.clearError()
}

// Snapshot returns an immutable copy of the current session state.
func (controller *Controller) Snapshot() Snapshot {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.snapshotLocked()
}

// State returns the current lifecycle state.
func (controller *Controller) State() State {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.state
}

// Subscribe registers a snapshot channel. The cancel function must be
// called when the subscriber is done. Slow subscribers miss
// intermediate snapshots rather than blocking the controller.
func (controller *Controller) Subscribe() (<-chan Snapshot, func()) {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	subscriberID := controller.nextSubscriberID
	controller.nextSubscriberID++
	channel := make(chan Snapshot, 8)
	controller.subscribers[subscriberID] = channel
	return channel, func() {
		controller.mutex.Lock()
		delete(controller.subscribers, subscriberID)
		controller.mutex.Unlock()
	}
}

// handleAuthEvent applies one auth-event notification. Every event
// unconditionally sets the Identity from the payload; handling is
// idempotent so repeated events are a no-op in effect.
func (controller *Controller) handleAuthEvent(ctx context.Context, event AuthEvent) {
	controller.mutex.Lock()
	if controller.closed {
		controller.metrics.Increment(MetricEventDropped)
		controller.mutex.Unlock()
		return
	}
	controller.identity = event.Identity.Clone()
	hasIdentity := event.Identity != nil
	var userID string
	if hasIdentity {
		userID = event.Identity.ID
		controller.state = StateAuthenticated
		controller.ensureRefreshTimerLocked()
	} else {
		controller.profile = nil
		controller.state = StateAnonymous
		controller.stopRefreshTimerLocked()
	}
	controller.loading = false

	switch event.Kind {
	case EventSignedIn:
		controller.lastError = ""
	case EventSignedOut:
		controller.lastError = ""
		controller.profile = nil
	case EventTokenRefreshed:
		controller.logger.Info("auth token refreshed",
			zap.String("code", "session.token_refreshed"),
			zap.String("user_id", userID))
	}
	controller.broadcastLocked()
	controller.mutex.Unlock()

	if hasIdentity {
		controller.hydrateProfile(ctx, userID)
	}
}

// hydrateProfile fetches the Profile for userID and applies it only if
// that Identity is still the active one, preventing cross-account
// leakage when events interleave with slow fetches.
func (controller *Controller) hydrateProfile(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	profile, fetchErr := controller.backend.GetProfile(ctx, userID)

	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	if controller.closed || controller.identity == nil || controller.identity.ID != userID {
		return
	}
	if fetchErr != nil {
		if errors.Is(fetchErr, ErrProfileNotFound) {
			// No profile row yet; the record is created lazily.
			controller.profile = nil
			controller.broadcastLocked()
			return
		}
		controller.lastError = errorMessage(fetchErr, messageFailedFetchProfile)
		controller.broadcastLocked()
		return
	}
	controller.metrics.Increment(MetricProfileFetch)
	controller.profile = profile.Clone()
	controller.broadcastLocked()
}

// ensureRefreshTimerLocked replaces any outstanding refresh timer so at
// most one is active for the current Identity.
func (controller *Controller) ensureRefreshTimerLocked() {
	controller.stopRefreshTimerLocked()
	controller.refreshTimer = time.AfterFunc(controller.refreshInterval, controller.refreshTick)
}

func (controller *Controller) stopRefreshTimerLocked() {
	if controller.refreshTimer != nil {
		controller.refreshTimer.Stop()
		controller.refreshTimer = nil
	}
}

func (controller *Controller) refreshTick() {
	controller.mutex.Lock()
	if controller.closed || controller.identity == nil {
		controller.mutex.Unlock()
		return
	}
	controller.mutex.Unlock()

	if !controller.RefreshSession(context.Background()) {
		return
	}
	controller.mutex.Lock()
	if !controller.closed && controller.identity != nil {
		controller.ensureRefreshTimerLocked()
	}
	controller.mutex.Unlock()
}

func (controller *Controller) setLoading(flag bool) {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	if controller.closed {
		return
	}
	if flag {
		controller.lastError = ""
	}
	controller.loading = flag
	controller.broadcastLocked()
}

func (controller *Controller) recordError(message string) {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	if controller.closed {
		return
	}
	controller.lastError = message
	controller.broadcastLocked()
}

func (controller *Controller) clearError() {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	controller.lastError = ""
	controller.broadcastLocked()
}

func (controller *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:     controller.state,
		Loading:   controller.loading,
		Identity:  controller.identity.Clone(),
		Profile:   controller.profile.Clone(),
		LastError: controller.lastError,
	}
}

func (controller *Controller) broadcastLocked() {
	snapshot := controller.snapshotLocked()
	for _, channel := range controller.subscribers {
		select {
		case channel <- snapshot:
		default:
		}
	}
}
