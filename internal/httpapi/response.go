package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ctbritt/dark-sun-assistant/internal/chat"
	"github.com/ctbritt/dark-sun-assistant/internal/conversation"
	"github.com/ctbritt/dark-sun-assistant/internal/toolserver"
	"github.com/ctbritt/dark-sun-assistant/internal/upload"
)

const (
	errorCodeInvalidRequest  = "invalid_request"
	errorCodeNotFound        = "not_found"
	errorCodeTooLarge        = "too_large"
	errorCodeUnsupportedType = "unsupported_type"
	errorCodeUnavailable     = "tool_server_unavailable"
	errorCodeRuntime         = "runtime_error"
)

const maxJSONBodyBytes = 1 << 20

var errInvalidRequest = errors.New("invalid request")

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	writeError(w, status, code, err.Error())
}

func writeInvalidRequest(w http.ResponseWriter, message string) {
	writeMappedError(w, invalidRequestError(message))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSONBody reads exactly one JSON object. An empty body is accepted when optional.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return invalidRequestError("request body is required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return invalidRequestError(fmt.Sprintf("request body exceeds %d bytes", maxBytesErr.Limit))
		}
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return invalidRequestError("request body is required")
		}
		return invalidRequestError(fmt.Sprintf("invalid JSON body: %v", err))
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalidRequestError("request body must contain exactly one JSON object")
	}

	return nil
}

func mapError(err error) (int, string) {
	var connErr *toolserver.ConnectError
	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, upload.ErrInvalidName):
		return http.StatusBadRequest, errorCodeInvalidRequest
	case errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, upload.ErrNotFound),
		errors.Is(err, toolserver.ErrUnknownServer):
		return http.StatusNotFound, errorCodeNotFound
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, errorCodeTooLarge
	case errors.Is(err, upload.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, errorCodeUnsupportedType
	case errors.As(err, &connErr):
		return http.StatusBadGateway, errorCodeUnavailable
	default:
		return http.StatusInternalServerError, errorCodeRuntime
	}
}

func invalidRequestError(message string) error {
	return fmt.Errorf("%w: %s", errInvalidRequest, message)
}
