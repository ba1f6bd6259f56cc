package routeguard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
)

type staticState struct {
	state sessionkit.State
}

func (provider staticState) State() sessionkit.State {
	return provider.state
}

func TestDecideCoversEveryState(t *testing.T) {
	t.Parallel()
	cases := []struct {
		state    sessionkit.State
		expected Decision
	}{
		{sessionkit.StateAuthenticated, DecisionAllow},
		{sessionkit.StateLoading, DecisionDefer},
		{sessionkit.StateUninitialized, DecisionDefer},
		{sessionkit.StateAnonymous, DecisionRedirect},
	}
	for _, testCase := range cases {
		if decision := Decide(testCase.state); decision != testCase.expected {
			t.Fatalf("state %s: expected %s, got %s", testCase.state, testCase.expected, decision)
		}
	}
}

func TestRedirectTargetPreservesDestination(t *testing.T) {
	t.Parallel()
	target := RedirectTarget("/user-login", "/matches?limit=10")
	if target != "/user-login?from=%2Fmatches%3Flimit%3D10" {
		t.Fatalf("unexpected redirect target %q", target)
	}
	if RedirectTarget("/user-login", "") != "/user-login" {
		t.Fatalf("empty destination must not append a from parameter")
	}
}

func performGuardedRequest(t *testing.T, state sessionkit.State, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequireAuthenticated(staticState{state: state}, "/user-login"))
	router.GET("/matches", func(contextGin *gin.Context) {
		contextGin.String(http.StatusOK, "ok")
	})
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestMiddlewareAllowsAuthenticated(t *testing.T) {
	t.Parallel()
	recorder := performGuardedRequest(t, sessionkit.StateAuthenticated, "/matches")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestMiddlewareDefersWhileLoading(t *testing.T) {
	t.Parallel()
	recorder := performGuardedRequest(t, sessionkit.StateLoading, "/matches")
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while loading, got %d", recorder.Code)
	}
	if recorder.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After hint on deferral")
	}
}

func TestMiddlewareRedirectsAnonymousPreservingDestination(t *testing.T) {
	t.Parallel()
	recorder := performGuardedRequest(t, sessionkit.StateAnonymous, "/matches?limit=10")
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	location := recorder.Header().Get("Location")
	if location != "/user-login?from=%2Fmatches%3Flimit%3D10" {
		t.Fatalf("expected preserved destination, got %q", location)
	}
}
