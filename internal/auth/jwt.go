// Package auth introspects the upstream access credential used by the
// upstream session (spec §4.1). The gateway never issues or verifies
// its own JWTs — subscriber authentication is an opaque api_key
// checked against the Registry — so this package only needs to read
// the exp claim off a credential handed to it by the upstream's own
// auth endpoint, to decide when a proactive refresh is due.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UpstreamClaims is the subset of the upstream credential's claims the
// gateway cares about.
type UpstreamClaims struct {
	jwt.RegisteredClaims
}

// CredentialInspector reads expiry information out of an upstream
// access token without verifying its signature — the gateway is not
// the token's intended audience and holds no verification key for it,
// it only needs to know when the token it was handed will stop
// working.
type CredentialInspector struct {
	skew time.Duration
}

// NewCredentialInspector builds an inspector that considers a
// credential due for refresh skew before its actual expiry.
func NewCredentialInspector(skew time.Duration) *CredentialInspector {
	return &CredentialInspector{skew: skew}
}

// ExpiresAt parses tokenString's exp claim without verifying its
// signature.
func (ci *CredentialInspector) ExpiresAt(tokenString string) (time.Time, error) {
	claims := &UpstreamClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, claims)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("credential has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// NeedsRefresh reports whether tokenString is within skew of
// expiring, or already expired, or unparsable.
func (ci *CredentialInspector) NeedsRefresh(tokenString string) bool {
	exp, err := ci.ExpiresAt(tokenString)
	if err != nil {
		return true
	}
	return time.Until(exp) <= ci.skew
}
