package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/desertthunder/playsync/internal/shared"
)

// Resolver maps an opaque caller token to a user id.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// StaticResolver resolves tokens from a fixed table, typically the [auth.tokens]
// config section.
type StaticResolver struct {
	tokens []staticToken
}

type staticToken struct {
	token  []byte
	userID string
}

// NewStaticResolver creates a resolver for a token → user id table.
func NewStaticResolver(tokens map[string]string) *StaticResolver {
	r := &StaticResolver{}
	for token, userID := range tokens {
		if token == "" || userID == "" {
			continue
		}
		r.tokens = append(r.tokens, staticToken{token: []byte(token), userID: userID})
	}
	return r
}

// Resolve compares token against every entry in constant time.
func (r *StaticResolver) Resolve(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: no token", shared.ErrUnauthorized)
	}

	candidate := []byte(token)
	userID := ""
	for _, t := range r.tokens {
		if subtle.ConstantTimeCompare(t.token, candidate) == 1 {
			userID = t.userID
		}
	}
	if userID == "" {
		return "", shared.ErrUnauthorized
	}
	return userID, nil
}

type userKey struct{}

// WithUser returns a context carrying the resolved user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user id stored by [RequireUser].
func UserFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userKey{}).(string)
	return id, ok && id != ""
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireUser resolves the caller from the Authorization header and rejects
// the request with 401 when that fails. With allowQuery the token may also be
// passed as ?token=, for browser popups that cannot set headers.
func RequireUser(resolver Resolver, allowQuery bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && allowQuery {
				token = r.URL.Query().Get("token")
			}

			userID, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}
