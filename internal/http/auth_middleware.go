package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/OlgaBilynska/REST-API-app/internal/domain"
)

type authContextKey string

const contextKeyAuth authContextKey = "auth-session"

type authSession struct {
	User  *domain.User
	Token string
}

// requireAuth ensures the request carries a valid bearer session token
// before invoking the handler. The resolved user and the raw token are
// stored in the request context.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, err := r.auth.Authorize(req.Context(), token)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyAuth, authSession{User: user, Token: token})
		next(w, req.WithContext(ctx))
	}
}

// sessionFromContext extracts the authenticated session from context.
func sessionFromContext(ctx context.Context) (authSession, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authSession{}, false
	}
	sess, ok := value.(authSession)
	return sess, ok
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
