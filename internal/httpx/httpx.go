// Package httpx holds the JSON response helpers shared by the HTTP handlers
// and the mapping from domain error kinds to status codes.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/retailcore/internal/domain"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func WriteMessage(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	WriteJSON(w, logger, status, errorBody{Error: message})
}

// StatusFor maps an error returned by the core to an HTTP status.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		if domain.IsNotFound(err) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case domain.KindBusinessRule:
		return http.StatusConflict
	case domain.KindInvariant:
		return http.StatusInternalServerError
	default:
		return http.StatusServiceUnavailable
	}
}

// WriteError renders err for the caller. Rule and validation failures carry
// their message; infrastructure and invariant failures are logged and hidden.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error, logMsg string, args ...any) {
	status := StatusFor(err)

	var derr *domain.Error
	code := ""
	if errors.As(err, &derr) {
		code = derr.Code
	}

	switch status {
	case http.StatusServiceUnavailable:
		logger.Error(logMsg, append(args, "error", err)...)
		WriteJSON(w, logger, status, errorBody{Error: "temporarily unavailable, try again", Code: code})
	case http.StatusInternalServerError:
		logger.Error(logMsg, append(args, "error", err)...)
		WriteJSON(w, logger, status, errorBody{Error: "internal server error", Code: code})
	default:
		logger.Info(logMsg, append(args, "error", err)...)
		WriteJSON(w, logger, status, errorBody{Error: err.Error(), Code: code})
	}
}

// DecodeJSON reads a bounded JSON body into dst. An empty body leaves dst untouched.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.WrapError(domain.ErrInvalidRequest, "invalid request body", err)
	}
	return nil
}
