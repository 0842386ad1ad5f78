package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/jw6ventures/formsheets/internal/auth"
	"github.com/jw6ventures/formsheets/internal/config"
	httperrors "github.com/jw6ventures/formsheets/internal/http/errors"
)

type contextKey struct{}

const (
	CookieName = "formsheets_csrf"
	HeaderName = "X-CSRF-Token"
)

// Middleware implements the double-submit check: the SPA reads the (script-visible) cookie and
// echoes it in X-CSRF-Token. Only mutations that ride on session cookies are checked; requests
// carrying an Authorization header cannot be forged cross-site.
func Middleware(cfg *config.Config) func(http.Handler) http.Handler {
	secure := cfg.SecureCookies()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if c, err := r.Cookie(CookieName); err == nil {
				token = c.Value
			}
			if token == "" {
				var err error
				token, err = generateToken()
				if err != nil {
					httperrors.InternalError(w, r, err, "issue csrf token")
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: false,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			if isStateChanging(r.Method) && usesSessionCookie(r) {
				provided := r.Header.Get(HeaderName)
				if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
					httperrors.WriteJSON(w, http.StatusForbidden, httperrors.Body{
						Code:    "csrf_invalid",
						Message: "missing or invalid csrf token",
					})
					return
				}
			}

			ctx := context.WithValue(r.Context(), contextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromContext returns the CSRF token associated with the request.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

func usesSessionCookie(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" {
		return false
	}
	for _, name := range []string{auth.AccessCookie, auth.RefreshCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return true
		}
	}
	return false
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
