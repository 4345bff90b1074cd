package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/storyviews/internal/auth"
)

// claimsKey is the context key for validated analytics claims.
type claimsKey struct{}

// TokenValidator validates bearer tokens. *auth.JWTService satisfies it.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// GetClaims returns the analytics claims stored by RequireBearer.
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok
}

// WithClaims returns a copy of ctx carrying claims and their subject as actor.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = SetActor(ctx, claims.Subject)
	return context.WithValue(ctx, claimsKey{}, claims)
}

// RequireBearer rejects requests without a valid "Authorization: Bearer"
// analytics token. On success the claims and actor are stored in the context.
func RequireBearer(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, r, "auth_required", "Missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				code := "invalid_token"
				if errors.Is(err, auth.ErrExpiredToken) {
					code = "token_expired"
				}
				unauthorized(w, r, code, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, code, message string) {
	SetErrorCode(r.Context(), code)
	w.Header().Set("WWW-Authenticate", `Bearer realm="analytics"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}` + "\n"))
}
