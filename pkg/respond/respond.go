// Package respond writes JSON HTTP responses.
package respond

import (
	"encoding/json"
	"net/http"
)

// JSON writes v as a JSON body with the given status code. Marshal
// failures leave the response with headers only; the status code has
// already been committed at that point.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

// Error writes a JSON error body with the given status code.
func Error(w http.ResponseWriter, code int, message string) {
	JSON(w, code, map[string]any{
		"error":  message,
		"status": code,
	})
}
