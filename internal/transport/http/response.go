package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"exam-deployment-service/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *errorPayload `json:"error,omitempty"`
	Meta  meta          `json:"meta"`
}

func writeOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeEnvelope(w, status, envelope{
		OK:   true,
		Data: data,
		Meta: meta{RequestID: middleware.GetReqID(r.Context())},
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	writeEnvelope(w, status, envelope{
		Error: &errorPayload{Code: code, Message: msg},
		Meta:  meta{RequestID: middleware.GetReqID(r.Context())},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, res envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

// writeFailure maps the error taxonomy onto HTTP. Anything outside it is an
// internal error and is logged, not echoed.
func writeFailure(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeError(w, r, statusFor(de.Kind), de.Kind.String(), de.Error())
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindLocked:
		return http.StatusLocked
	case domain.KindGone:
		return http.StatusGone
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
