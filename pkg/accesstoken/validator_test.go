package accesstoken

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

func mintToken(t *testing.T, signingKey []byte, issuer string, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: "fatima.ali@email.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "U123",
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	})
	result, err := token.SignedString(signingKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return result
}

func TestNewValidatorRequiresSigningKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Issuer: "https://auth.faddlmatch.com/auth/v1"})
	if err == nil || !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
}

func TestNewValidatorRequiresIssuer(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SigningKey: []byte("secret")})
	if err == nil || !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
}

func TestValidateTokenSuccess(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0).UTC()
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "https://auth.faddlmatch.com/auth/v1",
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tokenString := mintToken(t, []byte("secret-key"), "https://auth.faddlmatch.com/auth/v1", now.Add(-time.Minute), time.Hour)
	claims, validateErr := validator.ValidateToken(tokenString)
	if validateErr != nil {
		t.Fatalf("expected valid token, got %v", validateErr)
	}
	if claims.GetUserID() != "U123" || claims.GetEmail() != "fatima.ali@email.com" || claims.GetRole() != "authenticated" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateTokenRejectsInvalidCases(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0).UTC()
	signingKey := []byte("secret-key")
	issuer := "https://auth.faddlmatch.com/auth/v1"
	validator, err := New(Config{
		SigningKey: signingKey,
		Issuer:     issuer,
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		name        string
		tokenString string
		expectedErr error
	}{
		{
			name:        "empty",
			tokenString: "",
			expectedErr: ErrMissingToken,
		},
		{
			name:        "garbage",
			tokenString: "not-a-token",
			expectedErr: ErrInvalidToken,
		},
		{
			name:        "wrong key",
			tokenString: mintToken(t, []byte("other-key"), issuer, now.Add(-time.Minute), time.Hour),
			expectedErr: ErrInvalidToken,
		},
		{
			name:        "wrong issuer",
			tokenString: mintToken(t, signingKey, "https://other.example/auth/v1", now.Add(-time.Minute), time.Hour),
			expectedErr: ErrInvalidIssuer,
		},
		{
			name:        "expired",
			tokenString: mintToken(t, signingKey, issuer, now.Add(-2*time.Hour), time.Hour),
			expectedErr: ErrTokenExpired,
		},
		{
			name:        "issued in the future",
			tokenString: mintToken(t, signingKey, issuer, now.Add(time.Hour), time.Hour),
			expectedErr: ErrInvalidToken,
		},
	}
	for _, testCase := range cases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			_, validateErr := validator.ValidateToken(testCase.tokenString)
			if !errors.Is(validateErr, testCase.expectedErr) {
				t.Fatalf("expected %v, got %v", testCase.expectedErr, validateErr)
			}
		})
	}
}

func TestValidateRequestRequiresBearerHeader(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0).UTC()
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "https://auth.faddlmatch.com/auth/v1",
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	request := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	_, validateErr := validator.ValidateRequest(request)
	if !errors.Is(validateErr, ErrMissingBearer) {
		t.Fatalf("expected missing bearer error, got %v", validateErr)
	}
}

func TestGinMiddlewareInjectsClaims(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	now := time.Unix(1700000000, 0).UTC()
	issuer := "https://auth.faddlmatch.com/auth/v1"
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     issuer,
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	router := gin.New()
	router.GET("/api/me", validator.GinMiddleware(""), func(contextGin *gin.Context) {
		claims, found := ClaimsFromContext(contextGin, "")
		if !found {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"user_id": claims.GetUserID()})
	})

	authorized := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	authorized.Header.Set("Authorization", "Bearer "+mintToken(t, []byte("secret-key"), issuer, now.Add(-time.Minute), time.Hour))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, authorized)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	anonymousRecorder := httptest.NewRecorder()
	router.ServeHTTP(anonymousRecorder, anonymous)
	if anonymousRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", anonymousRecorder.Code)
	}
}
