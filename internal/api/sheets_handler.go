package api

import (
	"net/http"

	httperrors "github.com/jw6ventures/formsheets/internal/http/errors"
)

type createSheetRequest struct {
	ConnectionID string `json:"connectionId" validate:"required"`
	SheetName    string `json:"sheetName" validate:"required,max=200"`
}

type connectSheetRequest struct {
	ConnectionID string `json:"connectionId" validate:"required"`
	SheetID      string `json:"sheetId" validate:"required,max=200"`
	SheetName    string `json:"sheetName" validate:"max=200"`
}

func (h *Handler) CreateSheet(w http.ResponseWriter, r *http.Request) {
	var req createSheetRequest
	if err := h.decode(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	sheet, err := h.binder.Create(r.Context(), currentUser(r).ID, req.ConnectionID, req.SheetName)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"data": sheet})
}

func (h *Handler) ConnectSheet(w http.ResponseWriter, r *http.Request) {
	var req connectSheetRequest
	if err := h.decode(r, &req); err != nil {
		httperrors.Write(w, r, err)
		return
	}
	sheet, err := h.binder.Attach(r.Context(), currentUser(r).ID, req.ConnectionID, req.SheetID, req.SheetName)
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"data": sheet})
}

func (h *Handler) CheckSheet(w http.ResponseWriter, r *http.Request) {
	status, err := h.binder.Check(r.Context(), currentUser(r).ID, r.URL.Query().Get("connectionId"))
	if err != nil {
		httperrors.Write(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"hasSheet": status.Bound, "sheet": status.Sheet})
}
