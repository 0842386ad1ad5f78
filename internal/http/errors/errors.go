package errors

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jw6ventures/formsheets/internal/apperr"
)

// Body is the JSON error envelope.
type Body struct {
	Success   bool           `json:"success"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidRequest, apperr.MissingCredentials, apperr.MissingState:
		return http.StatusBadRequest
	case apperr.Unauthorized, apperr.TokenExpired:
		return http.StatusUnauthorized
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.ProviderExchangeFailed:
		return http.StatusBadGateway
	case apperr.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Write renders err as a JSON error. Errors without a kind are logged and
// returned as a generic internal error.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.Internal {
		InternalError(w, r, err, "unhandled error")
		return
	}

	status := StatusFor(e.Kind)
	if status >= http.StatusInternalServerError {
		LogError(r, e.Message, err)
	} else {
		requestLogger(r).Debug("request rejected", zap.String("code", e.Kind.Code()), zap.Error(err))
	}

	WriteJSON(w, status, Body{
		Code:      e.Kind.Code(),
		Message:   e.Message,
		Retryable: e.Retryable(),
		Details:   e.Details,
	})
}

func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	LogError(r, message, err)
	WriteJSON(w, http.StatusInternalServerError, Body{
		Code:    apperr.Internal.Code(),
		Message: "internal server error",
	})
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	requestLogger(r).Warn("bad request", zap.Error(err))
	WriteJSON(w, http.StatusBadRequest, Body{
		Code:    apperr.InvalidRequest.Code(),
		Message: clientMessage,
	})
}

func LogError(r *http.Request, message string, err error) {
	requestLogger(r).Error(message, zap.Error(err))
}

func LogInfo(r *http.Request, message string, fields ...zap.Field) {
	requestLogger(r).Info(message, fields...)
}

func requestLogger(r *http.Request) *zap.Logger {
	logger := zap.L()
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		logger = logger.With(zap.String("request_id", requestID))
	}
	return logger
}
