package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
)

// Response is the uniform API response envelope.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the serialized error portion of a Response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError writes an error envelope. Structured errors carry their
// own code and status; anything else becomes a 500 INTERNAL_ERROR.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var structured *types.Error
	if !errors.As(err, &structured) {
		structured = types.NewError(types.ErrInternal, err.Error())
	}

	status := structured.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(structured.Code)
	}

	info := &ErrorInfo{
		Code:    string(structured.Code),
		Message: structured.Message,
	}
	if structured.Cause != nil {
		info.Details = structured.Cause.Error()
	}

	if logger != nil {
		logger.Error("API error",
			zap.String("code", info.Code),
			zap.String("message", info.Message),
			zap.Int("status", status),
			zap.Error(structured.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage writes a simple error envelope.
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// DecodeJSON decodes a request body, rejecting oversized payloads.
func DecodeJSON(r *http.Request, dst any, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	if err := dec.Decode(dst); err != nil {
		return types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrCompile, types.ErrExpression:
		return http.StatusBadRequest
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrConflict:
		return http.StatusConflict
	case types.ErrSuspensionTimeout:
		return http.StatusRequestTimeout
	case types.ErrDepthExceeded, types.ErrNodeExecution:
		return http.StatusUnprocessableEntity
	case types.ErrStorage, types.ErrSchedulerJob, types.ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
