// Package identity provides sample ratelimit.IdentityExtractor
// implementations. Identity derivation is explicitly a Non-goal of the
// core engine (spec.md §1); these are reference implementations a
// gateway operator wires in, not something ratelimit depends on.
package identity

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaim returns an IdentityExtractor that pulls the named claim out
// of a bearer JWT on the Authorization header, without verifying its
// signature. This mirrors the teacher's own stance in
// middleware.AuthMiddleware of trusting a value already validated
// upstream (there, a backend call; here, an edge authenticator) — the
// rate limiter's job is to key counters consistently, not to
// re-authenticate. Callers that need verification should run an auth
// middleware ahead of the rate limiter and use Header/QueryParam
// against the value it injects, or build an extractor that verifies
// with jwt.ParseWithClaims and a real key.
func JWTClaim(claim string) func(r *http.Request) string {
	return func(r *http.Request) string {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			return ""
		}

		parser := jwt.NewParser(jwt.WithoutClaimsValidation())
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(token, claims); err != nil {
			return ""
		}

		v, ok := claims[claim]
		if !ok {
			return ""
		}
		s, ok := v.(string)
		if !ok {
			return ""
		}
		return s
	}
}

// QueryParam returns an IdentityExtractor reading a URL query
// parameter — the simplest instance of the contract, used in spec.md
// §8 scenario 4 ("extractor returning the api-key query parameter").
func QueryParam(name string) func(r *http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}

// Header returns an IdentityExtractor reading a request header
// verbatim, e.g. an API key or a value an upstream auth middleware has
// already injected.
func Header(name string) func(r *http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(name)
	}
}
