package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxBodyBytes bounds request bodies. Batches of full-screen captures are large.
const maxBodyBytes = 64 << 20

// ErrorResponse is the failure body of every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeFailure writes {"error": msg, "success": false}.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Success: false})
}

// readJSONObject reads the body and decodes it as a generic JSON document.
// A body that is valid JSON but not an object decodes to a nil map.
func readJSONObject(w http.ResponseWriter, r *http.Request) (raw []byte, obj map[string]any, err error) {
	raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, nil, fmt.Errorf("failed to read request body: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid request body: %w", err)
	}
	obj, _ = doc.(map[string]any)
	return raw, obj, nil
}
