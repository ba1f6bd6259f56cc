// Package routeguard decides whether a navigation target is permitted
// based on the session lifecycle state. The decision itself is a pure
// function; the gin middleware renders it over HTTP.
package routeguard

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
)

// Decision is the outcome of evaluating one navigation attempt.
type Decision int

const (
	// DecisionAllow permits the navigation.
	DecisionAllow Decision = iota
	// DecisionDefer renders a blocking placeholder: the session state is
	// still resolving, so neither permit nor deny yet.
	DecisionDefer
	// DecisionRedirect sends the caller to the sign-in entry point.
	DecisionRedirect
)

// String names the decision for logs.
func (decision Decision) String() string {
	switch decision {
	case DecisionAllow:
		return "allow"
	case DecisionDefer:
		return "defer"
	default:
		return "redirect"
	}
}

// Decide maps a session state to a navigation decision.
func Decide(state sessionkit.State) Decision {
	switch state {
	case sessionkit.StateAuthenticated:
		return DecisionAllow
	case sessionkit.StateUninitialized, sessionkit.StateLoading:
		return DecisionDefer
	default:
		return DecisionRedirect
	}
}

// RedirectTarget builds the sign-in URL preserving the originally
// requested destination so the caller can return there afterwards.
func RedirectTarget(signInPath string, requested string) string {
	if requested == "" {
		return signInPath
	}
	return signInPath + "?from=" + url.QueryEscape(requested)
}

// StateProvider exposes the current session state synchronously.
type StateProvider interface {
	State() sessionkit.State
}

// DefaultSignInPath is used when no sign-in entry point is configured.
const DefaultSignInPath = "/user-login"

// RequireAuthenticated gates a route group on the session state:
// AUTHENTICATED passes through, a still-loading session defers with 503
// and a Retry-After hint, anything else redirects to the sign-in entry
// point with the requested destination preserved.
func RequireAuthenticated(provider StateProvider, signInPath string) gin.HandlerFunc {
	if signInPath == "" {
		signInPath = DefaultSignInPath
	}
	return func(contextGin *gin.Context) {
		switch Decide(provider.State()) {
		case DecisionAllow:
			contextGin.Next()
		case DecisionDefer:
			contextGin.Header("Retry-After", "1")
			contextGin.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		default:
			contextGin.Redirect(http.StatusFound, RedirectTarget(signInPath, contextGin.Request.URL.RequestURI()))
			contextGin.Abort()
		}
	}
}
