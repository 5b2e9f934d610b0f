// Package identity validates caller-supplied session IDs and admin bearer tokens.
package identity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey int

const adminKey contextKey = iota

var (
	// ErrInvalidToken is returned for missing, malformed, expired or foreign tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token's exp claim has passed.
	ErrExpiredToken = errors.New("token has expired")

	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ValidSessionID reports whether id is an acceptable chat session ID.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// NormalizeSessionID trims id and returns it with whether it is valid.
func NormalizeSessionID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	return id, ValidSessionID(id)
}

// Claims are the admin token claims. Tokens are issued elsewhere.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Verifier checks HS256 admin tokens against a shared secret.
type Verifier struct {
	secret []byte
	admin  string
}

// NewVerifier creates a verifier accepting tokens whose username equals admin.
func NewVerifier(secret, admin string) *Verifier {
	return &Verifier{secret: []byte(secret), admin: admin}
}

// Verify parses the token and returns its claims when it belongs to the admin.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if len(v.secret) == 0 || tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" || claims.Username != v.admin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AdminFromContext returns the authenticated admin username, or "".
func AdminFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(adminKey).(string); ok {
		return v
	}
	return ""
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireAdmin rejects requests without a valid admin bearer token.
func RequireAdmin(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := v.Verify(bearerToken(r))
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"could not validate credentials"}`))
				return
			}
			ctx := context.WithValue(r.Context(), adminKey, claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
