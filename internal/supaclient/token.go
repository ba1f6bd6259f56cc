package supaclient

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/nicholsmindset/faddlmatch-sub001/internal/sessionkit"
)

// applyTokenMetadata extracts issued-at, expiry, and subject from the
// access token's claims. The token is minted and already trusted by the
// backend, so the signature is not re-verified here; pkg/accesstoken
// does full verification for inbound bearer tokens.
func applyTokenMetadata(identity *sessionkit.Identity, accessToken string) {
	if identity == nil || accessToken == "" {
		return
	}
	parser := jwt.NewParser()
	parsed, _, parseErr := parser.ParseUnverified(accessToken, jwt.MapClaims{})
	if parseErr != nil {
		return
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return
	}
	if issuedAt, issuedErr := claims.GetIssuedAt(); issuedErr == nil && issuedAt != nil {
		identity.TokenIssuedAt = issuedAt.Time
	}
	if expiresAt, expiryErr := claims.GetExpirationTime(); expiryErr == nil && expiresAt != nil {
		identity.TokenExpiresAt = expiresAt.Time
	}
	if subject, subjectErr := claims.GetSubject(); subjectErr == nil && subject != "" && identity.ID == "" {
		identity.ID = subject
	}
}
