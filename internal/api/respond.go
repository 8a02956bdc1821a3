package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/storyglass/storyglass/internal/apperr"
)

// Envelope is the JSON wrapper every API response carries.
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorBody      `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// WriteSuccess writes a success envelope with the given payload.
func WriteSuccess(w http.ResponseWriter, status int, data any) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			WriteError(w, apperr.InvariantViolated("unencodable response payload"))
			return
		}
		raw = b
	}
	writeEnvelope(w, status, Envelope{Success: true, Data: raw, Timestamp: time.Now().UTC()})
}

// WriteError writes an error envelope. Tagged errors carry their own code
// and HTTP status; anything else surfaces as INTERNAL.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &ErrorBody{Code: string(apperr.CodeInternal), Message: "internal error"}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		status = ae.HTTPStatus()
		body.Code = string(ae.Code)
		body.Message = ae.Message
		body.Details = ae.Details
	} else if err != nil {
		body.Message = err.Error()
	}

	writeEnvelope(w, status, Envelope{Success: false, Error: body, Timestamp: time.Now().UTC()})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
