package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/org/licenseserver/internal/lserr"
)

// errorBody is the JSON error envelope expected by existing clients.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// splitFormat strips a trailing ".json" from a path element and reports
// whether it was present. The suffix selects JSON response bodies; without
// it, responses are plain text.
func splitFormat(s string) (string, bool) {
	if trimmed, ok := strings.CutSuffix(s, ".json"); ok {
		return trimmed, true
	}
	return s, false
}

// writeBody renders a success response in the requested format. Strings go
// out bare in plain mode; structured values are always JSON-encoded, with
// the content type reflecting the format.
func writeBody(w http.ResponseWriter, jsonFormat bool, status int, body any) {
	contentType := "text/plain;charset=UTF-8"
	if jsonFormat {
		contentType = "application/json"
	}
	if s, ok := body.(string); ok && !jsonFormat {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		w.Write([]byte(s)) //nolint:errcheck
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// writeErr maps a taxonomy error onto its wire status and body.
func writeErr(w http.ResponseWriter, jsonFormat bool, err error) {
	code, msg := statusOf(err)
	if jsonFormat {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: msg}}) //nolint:errcheck
		return
	}
	w.Header().Set("Content-Type", "text/plain;charset=UTF-8")
	w.WriteHeader(code)
	w.Write([]byte(msg)) //nolint:errcheck
}

var statusMap = []struct {
	sentinel error
	code     int
	fallback string
}{
	{lserr.ErrInvalidArgument, http.StatusBadRequest, "Bad Request"},
	{lserr.ErrAuthFailed, http.StatusUnauthorized, "Missing or invalid signature"},
	{lserr.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{lserr.ErrNotFound, http.StatusNotFound, "Not Found"},
	{lserr.ErrConflict, http.StatusConflict, "Conflict"},
}

// statusOf translates the error taxonomy to HTTP. Internal details are never
// leaked: anything unrecognized collapses to a generic 500.
func statusOf(err error) (int, string) {
	for _, m := range statusMap {
		if !errors.Is(err, m.sentinel) {
			continue
		}
		if d := detailOf(err, m.sentinel); d != m.sentinel.Error() {
			return m.code, d
		}
		return m.code, m.fallback
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

// detailOf strips the sentinel prefix, leaving the human-readable part.
func detailOf(err error, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if rest, ok := strings.CutPrefix(msg, prefix); ok {
		return rest
	}
	return msg
}
