package api

import (
	"net/http"

	httperrors "github.com/jw6ventures/formsheets/internal/http/errors"
	"github.com/jw6ventures/formsheets/internal/store"
)

type formRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"required,email"`
	Hobby       string `json:"hobby" validate:"required,max=200"`
	Age         *int   `json:"age" validate:"required,gte=0,lte=150"`
	PhoneNumber int64  `json:"phoneNumber" validate:"required,gt=0"`
}

func (h *Handler) CreateForm(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var req formRequest
	if err := h.decode(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	form, err := h.store.Forms.Create(r.Context(), store.Form{
		UserID:      user.ID,
		Name:        req.Name,
		Email:       req.Email,
		Hobby:       req.Hobby,
		Age:         *req.Age,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		httperrors.InternalError(w, r, err, "create form")
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"message": "Form added successfully", "form": form})
}

func (h *Handler) ListForms(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	forms, err := h.store.Forms.ListByUser(r.Context(), user.ID)
	if err != nil {
		httperrors.InternalError(w, r, err, "list forms")
		return
	}
	if forms == nil {
		forms = []store.Form{}
	}
	writeOK(w, http.StatusOK, map[string]any{"user": user, "forms": forms})
}
