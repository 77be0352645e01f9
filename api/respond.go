package api

import (
	"encoding/json"
	"log"
	"net/http"

	"tweetattest-backend/core"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Code    string        `json:"code"`
	Receipt *core.Receipt `json:"receipt,omitempty"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// Error writes a plain error with an explicit code.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorResponse{Error: message, Code: code})
}

// Fail maps err to its wire code and status. A reverted receipt is echoed back
// so callers can inspect the failed transaction.
func Fail(w http.ResponseWriter, err error, receipt *core.Receipt) {
	code, status := core.Code(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
	}
	JSON(w, status, ErrorResponse{Error: err.Error(), Code: code, Receipt: receipt})
}

func methodNotAllowed(w http.ResponseWriter) {
	Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}
