package httpapi

import (
	"encoding/json"
	"net/http"
)

// Body is a JSON object response.
type Body map[string]any

func replyJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(body)
}

func replyError(w http.ResponseWriter, status int, msg string) {
	replyJSON(w, status, Body{"error": msg})
}
