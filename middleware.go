package userauth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type loggedInUserKey struct{}

// Middleware authenticates requests carrying a session token.
// The token is read from the Authorization header ("Bearer <token>" or the bare token)
// and then from the AuthTokenCookieName cookie.
type Middleware struct {
	Accounts            *AccountService
	AuthTokenHeaderName string
	AuthTokenCookieName string
}

// EnsureReasonableDefaults fills in unset header names
func (a *Middleware) EnsureReasonableDefaults() {
	if a.AuthTokenHeaderName == "" {
		a.AuthTokenHeaderName = "Authorization"
	}
}

// UserFromContext returns the user placed in ctx by the middleware, or nil
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(loggedInUserKey{}).(*User)
	return user
}

// ContextWithUser returns a copy of ctx carrying user
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, loggedInUserKey{}, user)
}

// ExtractUser loads the user when a valid token is present and never rejects the request
func (a *Middleware) ExtractUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.tokenFromRequest(r)
		if token != "" {
			if user, err := a.Accounts.Authenticate(r.Context(), token); err == nil {
				r = r.WithContext(ContextWithUser(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser rejects requests without a token with 403 and those with a bad token with 401
func (a *Middleware) EnsureUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.tokenFromRequest(r)
		if token == "" {
			writeError(w, r, NewAuthError(KindForbidden, "Token is required.", "token"))
			return
		}
		user, err := a.Accounts.Authenticate(r.Context(), token)
		if err != nil {
			if KindOf(err) == KindUpstream {
				writeError(w, r, err)
				return
			}
			slog.Debug("rejected session token", "path", r.URL.Path, "error", err)
			writeError(w, r, NewAuthError(KindUnauthorized, "Invalid token.", "token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (a *Middleware) tokenFromRequest(r *http.Request) string {
	if token := headerToken(r.Header.Get(a.AuthTokenHeaderName)); token != "" {
		return token
	}
	if a.AuthTokenCookieName != "" {
		if cookie, err := r.Cookie(a.AuthTokenCookieName); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}
	return ""
}

// bearerToken reads the token from the standard Authorization header
func bearerToken(r *http.Request) string {
	return headerToken(r.Header.Get("Authorization"))
}

func headerToken(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return value
}
