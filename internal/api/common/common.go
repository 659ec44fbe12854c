// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
)

// MaxPatchBytes caps the size of a patch request body
const MaxPatchBytes = 1 << 20

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}

// EntityIDParam extracts and validates the entity id URL parameter.
// The id must be non-empty after decoding and contain no whitespace.
func EntityIDParam(r *http.Request, paramName string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, paramName))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", paramName)
	}
	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", paramName)
	}
	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", paramName)
	}
	return decoded, nil
}

// DecodePatch reads a JSON object patch from the request body. The body must
// be a single non-empty object no larger than MaxPatchBytes.
func DecodePatch(w http.ResponseWriter, r *http.Request) (docstore.Patch, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxPatchBytes))

	var patch docstore.Patch
	if err := dec.Decode(&patch); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return nil, fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		case errors.Is(err, io.EOF):
			return nil, errors.New("request body is required")
		default:
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
	}
	if dec.More() {
		return nil, errors.New("request body must contain a single JSON object")
	}
	if len(patch) == 0 {
		return nil, errors.New("patch must contain at least one field")
	}
	return patch, nil
}
