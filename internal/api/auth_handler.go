package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/jw6ventures/formsheets/internal/apperr"
	"github.com/jw6ventures/formsheets/internal/auth"
	httperrors "github.com/jw6ventures/formsheets/internal/http/errors"
)

type registerRequest struct {
	FullName string `json:"fullName" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := h.decode(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	sess, err := h.accounts.Register(r.Context(), auth.RegisterInput{FullName: req.FullName, Email: req.Email, Password: req.Password})
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	h.sessions.SetCookies(w, sess.Tokens)
	writeOK(w, http.StatusCreated, map[string]any{"message": "Registered successfully", "user": sess.User})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	sess, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	h.sessions.SetCookies(w, sess.Tokens)
	writeOK(w, http.StatusOK, map[string]any{"message": "Logged in successfully", "user": sess.User})
}

// Refresh accepts the refresh token from its cookie or, for non-browser clients, the body.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(auth.RefreshCookie); err == nil {
		token = c.Value
	}
	if token == "" && r.ContentLength != 0 {
		var req refreshRequest
		if err := h.decode(r, &req); err != nil {
			httperrors.Write(w, r, err)
			return
		}
		token = req.RefreshToken
	}
	if token == "" {
		httperrors.Write(w, r, apperr.New(apperr.Unauthorized, "no refresh token provided"))
		return
	}
	sess, err := h.accounts.Refresh(r.Context(), token)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	h.sessions.SetCookies(w, sess.Tokens)
	writeOK(w, http.StatusOK, map[string]any{"message": "Token refreshed"})
}

// Logout always clears cookies and succeeds; revoking the stored refresh token is best effort.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(auth.RefreshCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		token = auth.CredentialFromRequest(r)
	}
	h.sessions.Clear(w)

	result := h.accounts.Logout(r.Context(), token)
	if result.Err != nil {
		h.logger.Warn("logout cleanup failed", zap.Int64("user_id", result.UserID), zap.Error(result.Err))
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"isAuthenticated": true, "user": currentUser(r)})
}
