// Package response writes the success/error envelope from spec.md §6,
// adapted from the teacher's api/response/response.go JSON helpers.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/deckforge/deckforge/internal/apperr"
)

// Success writes payload merged into a top-level {"success": true, ...}
// envelope, matching spec.md §6 exactly (no nested "data" wrapper, unlike
// the teacher's SuccessResponse).
func Success(w http.ResponseWriter, status int, payload interface{}) {
	merged, err := mergeSuccess(payload)
	if err != nil {
		InternalError(w, err)
		return
	}
	writeJSON(w, status, merged)
}

// mergeSuccess round-trips payload through JSON to merge a "success": true
// field alongside its own top-level keys.
func mergeSuccess(payload interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["success"] = true
	return fields, nil
}

// errorEnvelope is the error shape from spec.md §6.
type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Error writes a typed component error as spec.md §7's error envelope,
// choosing the HTTP status from the error's apperr.Kind: 404 for
// not_found, 500 for internal, 200 for every other "controlled failure".
func Error(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	writeJSON(w, statusForKind(kind), errorEnvelope{
		Success: false,
		Error:   string(kind),
		Message: err.Error(),
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// BadRequest writes a 400-equivalent invalid_input envelope. Used for
// malformed request bodies caught before any component is invoked, so
// there is no apperr.Error yet to inspect.
func BadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{
		Success: false,
		Error:   string(apperr.KindInvalidInput),
		Message: message,
	})
}

// InternalError writes a 500 internal envelope for conditions this package
// itself hits (e.g. a payload that fails to marshal).
func InternalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{
		Success: false,
		Error:   string(apperr.KindInternal),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
