package web

// errors.go provides unified error response handling for the web layer.
// Every error is logged with full detail server-side, keyed by request id,
// and returned to the client as a compact JSON body.

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tiendafacil/backoffice/internal/model"
)

// ErrorResponse is the JSON structure for API error responses. Problems is
// populated for structural import failures, where the whole file is rejected
// with a single synthetic problem instead of per-row outcomes.
type ErrorResponse struct {
	Error    string          `json:"error"`
	Problems []model.Problem `json:"problems,omitempty"`
}

// respondError logs the technical error with request context and writes the
// JSON error body.
func respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"request_id", middleware.GetReqID(r.Context()),
	)

	resp := ErrorResponse{Error: err.Error()}
	if prob, ok := err.(interface{ Problem() model.Problem }); ok {
		resp.Problems = []model.Problem{prob.Problem()}
	}
	writeJSON(w, statusCode, resp)
}

// writeJSON encodes v as JSON and writes it to w with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
