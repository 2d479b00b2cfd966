// Package httpkit holds small HTTP helpers shared by the API handlers.
package httpkit

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"mediarender/internal/pkg/errors"
)

// DecodeJSON reads exactly one JSON value into v and rejects unknown
// fields. Decoding problems come back as VALIDATION_ERROR; a body past the
// MaxBody cap is returned untouched so the error handler can report it.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.Validation("request body is required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return decodeError(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return err
		}
		return errors.Validation("request body must contain a single JSON object")
	}
	return nil
}

func decodeError(err error) error {
	var (
		tooLarge  *http.MaxBytesError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case stderrors.As(err, &tooLarge):
		return err
	case stderrors.Is(err, io.EOF):
		return errors.Validation("request body is required")
	case stderrors.As(err, &syntaxErr), stderrors.Is(err, io.ErrUnexpectedEOF):
		return errors.Validation("request body is not valid JSON")
	case stderrors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "body"
		}
		return errors.ValidationField(field, field+": expected "+typeErr.Type.String())
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		name := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return errors.ValidationField(name, "unknown field "+name)
	default:
		return errors.Validation("invalid request body: " + err.Error())
	}
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
