// Package auth protects the control API with HS256 bearer tokens.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"roomgraph/internal/common/errors"
	"roomgraph/internal/common/logging"
)

// Issuer is set on and required of every token
const Issuer = "roomgraph"

// Claims carried by API tokens
type Claims struct {
	// Scope is informational; every valid token may use the whole API
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

type contextKey struct{}

// Auth issues and checks tokens. A zero secret disables checking.
type Auth struct {
	secret []byte
	logger logging.Logger
}

func New(secret string) *Auth {
	return &Auth{
		secret: []byte(secret),
		logger: logging.Component("auth"),
	}
}

// Enabled reports whether requests need a token
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0
}

// GenerateJWT signs a token for subject valid for ttl
func (a *Auth) GenerateJWT(subject, scope string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.ConfigError("JWT secret not configured")
	}
	now := time.Now()
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateJWT parses tokenString and checks signature, expiry and issuer
func (a *Auth) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.AuthError(fmt.Sprintf("invalid token: %v", err))
	}
	if !token.Valid {
		return nil, errors.AuthError("invalid token")
	}
	return claims, nil
}

// RequireAuth rejects requests without a valid bearer token with 401.
// With auth disabled every request passes.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			unauthorized(w)
			return
		}

		claims, err := a.ValidateJWT(tokenString)
		if err != nil {
			a.logger.Warn("Rejected API request",
				logging.String("path", r.URL.Path),
				logging.String("remote_addr", r.RemoteAddr),
				logging.Err(err),
			)
			unauthorized(w)
			return
		}

		// Add the subject for the request log
		r.Header.Set("X-User-ID", claims.Subject)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

// FromContext returns the claims RequireAuth attached to the request context
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="roomgraph"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "Authentication required"}`))
}
