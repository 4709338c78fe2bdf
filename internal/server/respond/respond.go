// Package respond writes JSON responses and errors for the HTTP handlers.
package respond

import (
	"encoding/json"
	"log"
	"net/http"
)

// ErrorBody is the JSON shape of every error response. Retryable tells the UI whether to offer a retry.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// JSON writes v with status. Encoding failures are logged; headers are already sent by then.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("respond: encode response: %v", err)
	}
}

// Error writes an ErrorBody with status.
func Error(w http.ResponseWriter, status int, code, msg string, retryable bool) {
	JSON(w, status, ErrorBody{Error: msg, Code: code, Retryable: retryable})
}

// DecodeJSON decodes the request body into v, rejecting unknown fields and bodies over maxBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
