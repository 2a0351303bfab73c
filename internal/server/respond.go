package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/balkashynov/celltrack/internal/db"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Detail  *ErrorDetail `json:"detail,omitempty"`
}

// ErrorDetail carries the conflicting identifiers of a store error
type ErrorDetail struct {
	CellID  string `json:"cell_id,omitempty"`
	Channel int    `json:"channel,omitempty"`
	Field   string `json:"field,omitempty"`
	CycleNo int    `json:"cycle_no,omitempty"`
}

func statusFor(kind db.Kind) int {
	switch kind {
	case db.KindNotFound:
		return http.StatusNotFound
	case db.KindDuplicateCellID, db.KindChannelBusy, db.KindNotRunning, db.KindConstraintViolation:
		return http.StatusConflict
	case db.KindInvalidChannel, db.KindInvalidCellID, db.KindInvalidMeasurement,
		db.KindDivisionByZero, db.KindImmutableField:
		return http.StatusBadRequest
	case db.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response
func jsonError(w http.ResponseWriter, code, message string, status int) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// storeError maps a store failure to its HTTP status and JSON body
func (ws *WebServer) storeError(w http.ResponseWriter, err error) {
	var typed *db.Error
	if !errors.As(err, &typed) {
		ws.log.Error("unexpected error", zap.Error(err))
		jsonError(w, db.KindUnknown.Code(), "internal server error", http.StatusInternalServerError)
		return
	}

	status := statusFor(typed.Kind)
	message := typed.Error()
	if status == http.StatusInternalServerError {
		ws.log.Error("store failure", zap.Error(err))
		message = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{
		Code:    typed.Code(),
		Message: message,
		Detail: &ErrorDetail{
			CellID:  typed.CellID,
			Channel: typed.Channel,
			Field:   typed.Field,
			CycleNo: typed.CycleNo,
		},
	})
}

// decodeBody reads a JSON request body, rejecting unknown fields
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonError(w, "BAD_REQUEST", "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
