package config

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpiry reports the exp claim of a JWT bearer token. The signature is not
// checked; the node only uses this to warn before the gateway starts refusing
// the token. ok is false for opaque tokens and JWTs without exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &jwt.RegisteredClaims{})
	if err != nil {
		return time.Time{}, false
	}
	at, err := parsed.Claims.GetExpirationTime()
	if err != nil || at == nil {
		return time.Time{}, false
	}
	return at.Time, true
}
