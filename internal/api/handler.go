// Package api holds the JSON handlers behind /api.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jw6ventures/formsheets/internal/apperr"
	"github.com/jw6ventures/formsheets/internal/auth"
	"github.com/jw6ventures/formsheets/internal/config"
	"github.com/jw6ventures/formsheets/internal/connect"
	httperrors "github.com/jw6ventures/formsheets/internal/http/errors"
	"github.com/jw6ventures/formsheets/internal/sheets"
	"github.com/jw6ventures/formsheets/internal/store"
)

const maxBodyBytes = 1 << 20

// Handler serves the JSON API.
type Handler struct {
	cfg      *config.Config
	store    *store.Store
	sessions *auth.SessionManager
	accounts *auth.Service
	connect  *connect.Controller
	binder   *sheets.Binder
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(cfg *config.Config, st *store.Store, sessions *auth.SessionManager, accounts *auth.Service, ctrl *connect.Controller, binder *sheets.Binder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		accounts: accounts,
		connect:  ctrl,
		binder:   binder,
		validate: newValidator(),
		logger:   logger,
	}
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.InvalidRequest, "request body is required")
		}
		return apperr.Wrap(apperr.InvalidRequest, "request body is not valid JSON", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.InvalidRequest, "invalid request", err)
	}
	fields := make(map[string]any, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		names = append(names, fe.Field())
	}
	e := apperr.Newf(apperr.InvalidRequest, "invalid fields: %s", strings.Join(names, ", "))
	e.Details = map[string]any{"fields": fields}
	return e
}

func writeOK(w http.ResponseWriter, status int, body map[string]any) {
	body["success"] = true
	httperrors.WriteJSON(w, status, body)
}

func currentUser(r *http.Request) *store.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}
