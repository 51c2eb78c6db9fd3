package authclient

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenStale reports whether a stored session token has already expired.
//
// The claim is read without signature verification: the client holds no
// signing key, and a forged token is the server's problem to reject. A token
// that does not parse as a JWT, or carries no exp claim, is treated as fresh
// and left for the server to judge.
func TokenStale(token string, now time.Time) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return false
	}
	return expiry.Before(now)
}
