package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type sessionKey struct{}

// SessionClaims are the viewer session token claims.
type SessionClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies viewer session tokens. The session replaces
// the old browser-local pseudo-identity with an explicit server-issued
// object carrying its own lifecycle.
type Sessions struct {
	secret []byte
	ttl    time.Duration
}

// NewSessions creates a session token manager.
func NewSessions(secret string, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed session token for a user.
func (s *Sessions) Issue(userID string) (string, error) {
	claims := &SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses a session token and returns the user ID.
func (s *Sessions) Verify(tokenString string) (string, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", fmt.Errorf("invalid session token")
	}
	return claims.UserID, nil
}

// Middleware attaches the session user to the request context when a valid
// bearer token is present. Requests without a token pass through untouched;
// handlers that require identity check SessionUser themselves.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			if userID, err := s.Verify(strings.TrimPrefix(auth, "Bearer ")); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), sessionKey{}, userID))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// SessionUser returns the authenticated user ID from the context, if any.
func SessionUser(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey{}).(string); ok {
		return v
	}
	return ""
}
