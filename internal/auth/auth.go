// Package auth resolves the acting principal for HTTP requests. Validation
// is HS256 bearer tokens; when no secret is configured the middleware only
// extracts what is present and handlers fall back to body-supplied
// identities.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const ctxKeyPrincipal ctxKey = "promoter.principal"

// Principal holds the authenticated caller identity for a request.
type Principal struct {
	Subject string
	Issuer  string
}

// FromContext returns the Principal stored in the request context, or nil.
func FromContext(ctx context.Context) *Principal {
	v := ctx.Value(ctxKeyPrincipal)
	if v == nil {
		return nil
	}
	if p, ok := v.(*Principal); ok {
		return p
	}
	return nil
}

// Middleware returns an HTTP middleware that validates a Bearer token when
// secret is non-empty and places the resulting Principal into the request
// context. With an empty secret requests pass through unauthenticated.
func Middleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "authorization required", http.StatusUnauthorized)
				return
			}
			principal, err := ParsePrincipal(token, secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPrincipal, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParsePrincipal validates an HS256 token and extracts sub/iss claims.
func ParsePrincipal(tokenString, secret string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("sub claim required")
	}
	iss, _ := claims["iss"].(string)
	return &Principal{Subject: sub, Issuer: iss}, nil
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
