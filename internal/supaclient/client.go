// Package supaclient implements the sessionkit.Backend contract against
// a Supabase-style REST surface: GoTrue under /auth/v1 and PostgREST
// under /rest/v1. The auth-event stream is emitted locally after
// successful auth operations, mirroring the hosted client's channel.
package supaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
)

var (
	// ErrMissingBaseURL indicates the client was configured without a backend URL.
	ErrMissingBaseURL = errors.New("supaclient.missing_base_url")
	// ErrMissingAnonKey indicates the client was configured without an anon key.
	ErrMissingAnonKey = errors.New("supaclient.missing_anon_key")
	// ErrNoSession indicates an operation that needs a stored session ran without one.
	ErrNoSession = errors.New("supaclient.no_session")
)

const defaultEventBuffer = 32

// Config configures the Client.
type Config struct {
	BaseURL     string
	AnonKey     string
	HTTPClient  *http.Client
	Logger      *zap.Logger
	Clock       sessionkit.Clock
	EventBuffer int
}

// Client talks to the backend auth/data service. It holds the current
// session tokens and replays lifecycle changes on its event channel.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
	logger     *zap.Logger
	clock      sessionkit.Clock

	mutex   sync.Mutex
	current *sessionkit.Identity
	events  chan sessionkit.AuthEvent
}

// NewClient constructs a Client.
func NewClient(configuration Config) (*Client, error) {
	if strings.TrimSpace(configuration.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	if strings.TrimSpace(configuration.AnonKey) == "" {
		return nil, ErrMissingAnonKey
	}
	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := configuration.Clock
	if clock == nil {
		clock = sessionkit.NewSystemClock()
	}
	bufferSize := configuration.EventBuffer
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	return &Client{
		baseURL:    strings.TrimRight(configuration.BaseURL, "/"),
		anonKey:    configuration.AnonKey,
		httpClient: httpClient,
		logger:     logger,
		clock:      clock,
		events:     make(chan sessionkit.AuthEvent, bufferSize),
	}, nil
}

// Events exposes the local auth-event notification stream.
func (client *Client) Events() <-chan sessionkit.AuthEvent {
	return client.events
}

// GetSession returns the stored session, or nil when none is active.
func (client *Client) GetSession(ctx context.Context) (*sessionkit.Identity, error) {
	return client.currentSession(), nil
}

// SignUp registers an account. No session is stored and no event is
// emitted: activation may require an external confirmation step.
func (client *Client) SignUp(ctx context.Context, email string, password string, attributes map[string]string) (*sessionkit.Identity, error) {
	payload := map[string]any{"email": email, "password": password}
	if len(attributes) > 0 {
		payload["data"] = attributes
	}
	var parsed authResponse
	if err := client.postJSON(ctx, "/auth/v1/signup", "", payload, &parsed); err != nil {
		return nil, fmt.Errorf("supaclient.sign_up: %w", err)
	}
	return parsed.identity(client.clock.Now()), nil
}

// SignInWithPassword exchanges credentials for a session, stores it,
// and emits SIGNED_IN.
func (client *Client) SignInWithPassword(ctx context.Context, email string, password string) (*sessionkit.Identity, error) {
	payload := map[string]any{"email": email, "password": password}
	var parsed authResponse
	if err := client.postJSON(ctx, "/auth/v1/token?grant_type=password", "", payload, &parsed); err != nil {
		return nil, fmt.Errorf("supaclient.sign_in: %w", err)
	}
	identity := parsed.identity(client.clock.Now())
	client.storeSession(identity)
	client.emit(sessionkit.AuthEvent{Kind: sessionkit.EventSignedIn, Identity: identity.Clone()})
	return identity, nil
}

// SignOut clears the local session and emits SIGNED_OUT regardless of
// the server call's outcome, so a dead network cannot strand a stale
// Identity. The server error, if any, is still reported.
func (client *Client) SignOut(ctx context.Context) error {
	previous := client.currentSession()
	client.storeSession(nil)
	client.emit(sessionkit.AuthEvent{Kind: sessionkit.EventSignedOut, Identity: nil})

	if previous == nil {
		return nil
	}
	if err := client.postJSON(ctx, "/auth/v1/logout", previous.AccessToken, map[string]any{}, nil); err != nil {
		return fmt.Errorf("supaclient.sign_out: %w", err)
	}
	return nil
}

// RefreshSession renews the stored session and emits TOKEN_REFRESHED.
func (client *Client) RefreshSession(ctx context.Context) (*sessionkit.Identity, error) {
	current := client.currentSession()
	if current == nil || current.RefreshToken == "" {
		return nil, fmt.Errorf("supaclient.refresh: %w", ErrNoSession)
	}
	payload := map[string]any{"refresh_token": current.RefreshToken}
	var parsed authResponse
	if err := client.postJSON(ctx, "/auth/v1/token?grant_type=refresh_token", "", payload, &parsed); err != nil {
		return nil, fmt.Errorf("supaclient.refresh: %w", err)
	}
	identity := parsed.identity(client.clock.Now())
	client.storeSession(identity)
	client.emit(sessionkit.AuthEvent{Kind: sessionkit.EventTokenRefreshed, Identity: identity.Clone()})
	return identity, nil
}

// SendPasswordReset emails a reset link for the address.
func (client *Client) SendPasswordReset(ctx context.Context, email string, redirectTo string) error {
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	if err := client.postJSON(ctx, path, "", map[string]any{"email": email}, nil); err != nil {
		return fmt.Errorf("supaclient.recover: %w", err)
	}
	return nil
}

// UpdatePassword replaces the active user's password.
func (client *Client) UpdatePassword(ctx context.Context, newPassword string) error {
	current := client.currentSession()
	if current == nil {
		return fmt.Errorf("supaclient.update_password: %w", ErrNoSession)
	}
	request, buildErr := client.newRequest(ctx, http.MethodPut, "/auth/v1/user", current.AccessToken, map[string]any{"password": newPassword})
	if buildErr != nil {
		return fmt.Errorf("supaclient.update_password: %w", buildErr)
	}
	if err := client.do(request, nil); err != nil {
		return fmt.Errorf("supaclient.update_password: %w", err)
	}
	return nil
}

// ResolveUser validates a bearer access token with the backend and
// returns the Identity it belongs to. Used by the proxy layer.
func (client *Client) ResolveUser(ctx context.Context, accessToken string) (*sessionkit.Identity, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("supaclient.resolve_user: %w", ErrNoSession)
	}
	request, buildErr := client.newRequest(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil)
	if buildErr != nil {
		return nil, fmt.Errorf("supaclient.resolve_user: %w", buildErr)
	}
	var parsed authUser
	if err := client.do(request, &parsed); err != nil {
		return nil, fmt.Errorf("supaclient.resolve_user: %w", err)
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("supaclient.resolve_user: %w", ErrNoSession)
	}
	identity := &sessionkit.Identity{ID: parsed.ID, Email: parsed.Email, AccessToken: accessToken}
	applyTokenMetadata(identity, accessToken)
	return identity, nil
}

func (client *Client) currentSession() *sessionkit.Identity {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	return client.current.Clone()
}

func (client *Client) storeSession(identity *sessionkit.Identity) {
	client.mutex.Lock()
	defer client.mutex.Unlock()
	client.current = identity.Clone()
}

func (client *Client) emit(event sessionkit.AuthEvent) {
	select {
	case client.events <- event:
	default:
		client.logger.Warn("auth event dropped, subscriber too slow",
			zap.String("code", "supaclient.event.dropped"),
			zap.String("kind", string(event.Kind)))
	}
}

func (client *Client) postJSON(ctx context.Context, path string, bearer string, payload any, out any) error {
	request, buildErr := client.newRequest(ctx, http.MethodPost, path, bearer, payload)
	if buildErr != nil {
		return buildErr
	}
	return client.do(request, out)
}

func (client *Client) newRequest(ctx context.Context, method string, path string, bearer string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		encoded, encodeErr := json.Marshal(payload)
		if encodeErr != nil {
			return nil, encodeErr
		}
		body = bytes.NewReader(encoded)
	}
	request, requestErr := http.NewRequestWithContext(ctx, method, client.baseURL+path, body)
	if requestErr != nil {
		return nil, requestErr
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("apikey", client.anonKey)
	if bearer == "" {
		bearer = client.anonKey
	}
	request.Header.Set("Authorization", "Bearer "+bearer)
	return request, nil
}

func (client *Client) do(request *http.Request, out any) error {
	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		return doErr
	}
	defer func() { _ = response.Body.Close() }()

	rawBody, readErr := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if readErr != nil {
		return readErr
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return decodeServiceError(response.StatusCode, rawBody)
	}
	if out == nil || len(rawBody) == 0 {
		return nil
	}
	return json.Unmarshal(rawBody, out)
}

// decodeServiceError normalizes the several error shapes GoTrue and
// PostgREST emit into a single BackendError.
func decodeServiceError(status int, rawBody []byte) error {
	var parsed struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		Code             any    `json:"code"`
	}
	_ = json.Unmarshal(rawBody, &parsed)

	message := parsed.ErrorDescription
	if message == "" {
		message = parsed.Msg
	}
	if message == "" {
		message = parsed.Message
	}
	if message == "" {
		message = parsed.Error
	}
	if message == "" {
		message = http.StatusText(status)
	}
	code := ""
	if textCode, ok := parsed.Code.(string); ok {
		code = textCode
	}
	return &sessionkit.BackendError{Code: code, Message: message, Status: status}
}

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type authResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	User         authUser `json:"user"`
}

func (parsed authResponse) identity(now time.Time) *sessionkit.Identity {
	identity := &sessionkit.Identity{
		ID:            parsed.User.ID,
		Email:         parsed.User.Email,
		AccessToken:   parsed.AccessToken,
		RefreshToken:  parsed.RefreshToken,
		TokenIssuedAt: now,
	}
	if parsed.ExpiresIn > 0 {
		identity.TokenExpiresAt = now.Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	applyTokenMetadata(identity, parsed.AccessToken)
	return identity
}
