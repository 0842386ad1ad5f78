package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jw6ventures/formsheets/internal/apperr"
	"github.com/jw6ventures/formsheets/internal/connect"
	httperrors "github.com/jw6ventures/formsheets/internal/http/errors"
	"github.com/jw6ventures/formsheets/internal/logging"
	"github.com/jw6ventures/formsheets/internal/store"
)

// BeginGoogle redirects the browser to the consent screen, or to the frontend error page.
func (h *Handler) BeginGoogle(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.connect.Begin(r.Context(), r.URL.Query().Get("formId"), currentUser(r))
	if err != nil {
		h.redirectFailure(w, r, "begin authorization", err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conn, err := h.connect.Complete(r.Context(), connect.Callback{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	})
	if err != nil {
		h.redirectFailure(w, r, "complete authorization", err)
		return
	}
	http.Redirect(w, r, connect.SuccessRedirect(h.cfg.FrontendURL, conn), http.StatusFound)
}

func (h *Handler) ListGoogleAccounts(w http.ResponseWriter, r *http.Request) {
	conns, err := h.connect.List(r.Context(), chi.URLParam(r, "formId"), currentUser(r))
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, connectionView{Connection: c, HasSheet: c.Bound()})
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Connected Google accounts fetched", "connections": views})
}

// connectionView is a listed connection with its binding state spelled out.
type connectionView struct {
	store.Connection
	HasSheet bool `json:"hasSheet"`
}

func (h *Handler) redirectFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger := logging.WithRequest(h.logger, r)
	if apperr.KindOf(err) == apperr.Internal {
		logger.Error(op, zap.Error(err))
	} else {
		logger.Info(op+" rejected", zap.String("reason", apperr.KindOf(err).Code()), zap.Error(err))
	}
	http.Redirect(w, r, connect.FailureRedirect(h.cfg.FrontendURL, err), http.StatusFound)
}
