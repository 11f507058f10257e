// Package handler contains the HTTP request handlers for the API.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming HTTP request (path params, query, JSON body)
//  2. Call the service layer
//  3. Write the HTTP response (status code, headers, JSON body)
//
// Handlers hold no business rules. They are the glue between HTTP and the
// services, and they are the only place that knows about status codes.
package handler

// RESPONSE HELPERS:
// These functions standardise how we read JSON requests and send JSON
// responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"type": "not_found", "messages": ["Hack not found"]}
//
// "messages" is always a list because validation reports every broken rule
// at once, and the frontend renders them all.

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/sakif/ecohacks/internal/apperror"
)

// maxBodyBytes caps request bodies. A hack description is the largest
// field we accept and is nowhere near this.
const maxBodyBytes = 1 << 20

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and the status code must be set BEFORE the body is written.
// Once Encode writes, the headers are gone and later changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already sent, so all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeMessage sends {"message": msg}.
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeError maps a domain error to its HTTP status and sends the
// normalized body.
//
// ERROR MAPPING:
//
//	validation → 400   duplicate → 409   not_found → 404
//	unauthorized → 401 forbidden → 403   conflict → 409
//	anything else → 500 with a generic message
//
// Errors outside the closed set are logged here with their full text,
// because the client only ever sees "An unknown error occurred".
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, apperror.Normalize(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads the request body into v.
//
// With strict set, keys that v has no field for are rejected. The profile
// update uses this so that a client cannot sneak in ecoPoints.
// Every decoding problem is a validation error, so the client gets a 400
// that says what was wrong instead of a 500.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}

	if err := dec.Decode(v); err != nil {
		return decodeError(err)
	}
	return nil
}

// decodePatch decodes a partial update into v without rejecting keys v has
// no field for. Those keys are returned instead, so the service can check
// who is asking before it complains about what they sent.
func decodePatch(w http.ResponseWriter, r *http.Request, v any) ([]string, error) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw, false); err != nil {
		return nil, err
	}

	known := jsonFields(v)
	var unknown []string
	for key := range raw {
		if !known[strings.ToLower(key)] {
			unknown = append(unknown, key)
			delete(raw, key)
		}
	}
	slices.Sort(unknown)

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("handler: re-encoding patch: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return nil, decodeError(err)
	}
	return unknown, nil
}

// jsonFields returns the lower-cased JSON names of the fields of the struct
// v points to. encoding/json matches names case-insensitively, so we do too.
func jsonFields(v any) map[string]bool {
	t := reflect.TypeOf(v).Elem()
	fields := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = t.Field(i).Name
		}
		fields[strings.ToLower(name)] = true
	}
	return fields
}

// decodeError turns a JSON decoding failure into a validation error.
func decodeError(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		tooLarge  *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return apperror.Validation("Request body is required")
	case errors.As(err, &tooLarge):
		return apperror.Validation("Request body is too large")
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return apperror.Validation("Invalid JSON body")
	case errors.As(err, &typeErr):
		return apperror.ValidationFailed(typeErr.Field, fmt.Sprintf("Invalid value for %s", typeErr.Field))
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return apperror.ValidationFailed(field, fmt.Sprintf("Invalid update field: %s", field))
	default:
		return apperror.Validation("Invalid JSON body")
	}
}
