package api

import (
	"net/http"
	"time"

	"github.com/go-chi/jwtauth"
)

// NewJWTAuth returns an HS256 token authority for secret.
func NewJWTAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// RequireJWT rejects requests without a valid bearer token signed by ja.
func RequireJWT(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	verify := jwtauth.Verifier(ja)
	return func(next http.Handler) http.Handler {
		return verify(jwtauth.Authenticator(next))
	}
}

// IssueToken signs a token for subject that expires after ttl.
func IssueToken(ja *jwtauth.JWTAuth, subject string, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{"sub": subject}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, ttl)
	_, token, err := ja.Encode(claims)
	return token, err
}
