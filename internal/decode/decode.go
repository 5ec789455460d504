// Package decode turns request bodies into typed values after validating them
// against a JSON Schema.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/narrahq/narra/internal/respond"
)

// MaxBodySize bounds every decoded request body.
const MaxBodySize = 1 << 20

// ValidationError describes the first schema violation found in a body.
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Schema is a compiled request schema.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// MustCompile compiles a schema and panics on error. Schemas are package
// level constants, so a failure is a programming error.
func MustCompile(name, src string) *Schema {
	s, err := jsonschema.CompileString(name, src)
	if err != nil {
		panic(fmt.Sprintf("decode: compile %s: %v", name, err))
	}
	return &Schema{name: name, schema: s}
}

// Decode reads the request body, validates it and unmarshals into dst.
// A missing or malformed body is reported the same way as an invalid one.
// Form-encoded bodies are accepted and validated as string fields.
func (s *Schema) Decode(r *http.Request, dst any) error {
	raw, err := readBody(r)
	if err != nil {
		return invalid(&ValidationError{Message: "Invalid or missing request body"})
	}
	return s.DecodeBytes(raw, dst)
}

// DecodeBytes validates and unmarshals a raw JSON document.
func (s *Schema) DecodeBytes(raw []byte, dst any) error {
	var doc any
	if len(strings.TrimSpace(string(raw))) == 0 || json.Unmarshal(raw, &doc) != nil {
		return invalid(&ValidationError{Message: "Invalid or missing request body"})
	}

	if err := s.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return invalid(leafError(ve))
		}
		return invalid(&ValidationError{Message: err.Error()})
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return invalid(&ValidationError{Message: "Invalid request body"})
	}
	return nil
}

// Values validates query parameters (or any flat string map) against the schema.
func (s *Schema) Values(v url.Values, dst any) error {
	raw, err := json.Marshal(flatten(v))
	if err != nil {
		return invalid(&ValidationError{Message: "Invalid query"})
	}
	return s.DecodeBytes(raw, dst)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("empty body")
	}
	defer r.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize))
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, err
		}
		return json.Marshal(flatten(form))
	}
	return raw, nil
}

func flatten(v url.Values) map[string]any {
	out := make(map[string]any, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}

// leafError follows the first cause chain down to the most specific violation.
func leafError(ve *jsonschema.ValidationError) *ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return &ValidationError{
		Field:   strings.TrimPrefix(ve.InstanceLocation, "/"),
		Message: ve.Message,
	}
}

func invalid(ve *ValidationError) error {
	msg := "Invalid request"
	if ve.Field != "" {
		msg = fmt.Sprintf("Invalid field: %s", ve.Field)
	} else if ve.Message != "" {
		msg = ve.Message
	}
	return &respond.HTTPError{Kind: respond.ErrValidation, Message: msg, Details: ve, Err: ve}
}
