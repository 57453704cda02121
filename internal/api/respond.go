package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeFailure is the {success:false, error} shape used by the write
// endpoints and the listing endpoints.
func writeFailure(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   reason,
	})
}

// writeError is the bare {error} shape used by the simple read endpoints.
func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
