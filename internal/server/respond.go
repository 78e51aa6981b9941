package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Every route answers with the same envelope the original clients parse:
// success payloads under "data", failures as {"status":"error","message"}.

type successEnvelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func respondData(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(successEnvelope{Status: "success", Data: data})
}

func respondError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Status: "error", Message: msg})
}

const maxBodyBytes = 1 << 20

// decodeJSON reads one JSON document from the request body into dst.
// Unknown fields pass through silently; the original clients send extras.
func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("body exceeds %d bytes", maxErr.Limit)
		}
		return err
	}
	return nil
}
