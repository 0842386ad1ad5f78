package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jw6ventures/formsheets/internal/apperr"
	httperrors "github.com/jw6ventures/formsheets/internal/http/errors"
	"github.com/jw6ventures/formsheets/internal/store"
)

// Guard turns a bearer credential into a user.
type Guard struct {
	sessions *SessionManager
	users    store.UserRepository
	logger   *zap.Logger
}

func NewGuard(sessions *SessionManager, users store.UserRepository, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{sessions: sessions, users: users, logger: logger}
}

// ResolveCaller returns the user behind credential, or nil. It never fails:
// bad signatures, expired tokens, refresh tokens and deleted users all resolve to nil.
func (g *Guard) ResolveCaller(ctx context.Context, credential string) *store.User {
	if credential == "" {
		return nil
	}
	claims, err := g.sessions.Parse(credential, TokenAccess)
	if err != nil {
		g.logger.Debug("rejecting session credential", zap.Error(err))
		return nil
	}
	userID, _ := claims.UserID()
	user, err := g.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("session user lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		return nil
	}
	return user.Public()
}

// CredentialFromRequest prefers the Authorization header and falls back to the access cookie.
func CredentialFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(AccessCookie); err == nil {
		return c.Value
	}
	return ""
}

// Middleware attaches the caller, if any, to the request context. Anonymous requests pass through.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := g.ResolveCaller(r.Context(), CredentialFromRequest(r)); user != nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests that Middleware did not identify.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			httperrors.Write(w, r, apperr.New(apperr.Unauthorized, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
