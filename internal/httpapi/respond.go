package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	ragerrors "github.com/ragserve/ragserve/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write json response", "error", err)
	}
}

// errorBody is the uniform error shape of spec.md §6.1: {"detail": "..."}.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// writeError maps err onto a status code and detail string per spec.md
// §7's taxonomy. Errors not produced by pkg/errors are treated as
// ErrInternal.
func writeError(w http.ResponseWriter, err error) {
	var base *ragerrors.BaseError
	if errors.As(err, &base) {
		writeDetail(w, base.HTTPStatusCode(), base.Error())
		return
	}
	writeDetail(w, http.StatusInternalServerError, err.Error())
}

// writeDisabled is the special case of spec.md §6.2: a disabled service
// answers /index and /query with 503, a status the error taxonomy has
// no kind for.
func writeDisabled(w http.ResponseWriter) {
	writeDetail(w, http.StatusServiceUnavailable, "rag is disabled")
}
