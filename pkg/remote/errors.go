package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrCircuitOpen is returned without contacting the service while the
// circuit breaker is open.
var ErrCircuitOpen = errors.New("remote: circuit breaker open")

// FieldError is one field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a structured failure returned by the service.
// Fields keeps the order in which the service listed them.
type APIError struct {
	Status  int
	Message string
	Fields  []FieldError
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && len(e.Fields) > 0 {
		msg = e.Fields[0].Field + ": " + e.Fields[0].Message
	}
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("remote: status %d: %s", e.Status, msg)
}

// IsValidation reports whether the error carries field-level messages.
func (e *APIError) IsValidation() bool {
	return len(e.Fields) > 0
}

// FieldMap returns the field messages keyed by field name.
func (e *APIError) FieldMap() map[string]string {
	m := make(map[string]string, len(e.Fields))
	for _, f := range e.Fields {
		if _, ok := m[f.Field]; !ok {
			m[f.Field] = f.Message
		}
	}
	return m
}

// TransportError is a failure without a structured body: connection errors,
// timeouts, unreadable responses.
type TransportError struct {
	Method string
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote: %s %s: status %d: %v", e.Method, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("remote: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// metaKeys are envelope fields that are never validation messages.
var metaKeys = map[string]bool{
	"status":    true,
	"timestamp": true,
	"path":      true,
	"trace":     true,
	"code":      true,
	"success":   true,
}

// ParseErrorBody builds an APIError from a service error body. It accepts
// {"message": ...}, {"error": ...}, {"errors": {field: msg}},
// {"errors": [{"field", "message"|"defaultMessage"}]} and a bare
// {field: msg} map. Returns nil when the body has none of these.
func ParseErrorBody(status int, body []byte) *APIError {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil
	}

	apiErr := &APIError{Status: status}
	var errorField string

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil
		}

		switch {
		case key == "message":
			apiErr.Message = stringValue(raw)
		case key == "error":
			errorField = stringValue(raw)
		case key == "errors" || key == "fieldErrors":
			apiErr.Fields = append(apiErr.Fields, parseFieldErrors(raw)...)
		case metaKeys[key]:
		default:
			if s := stringValue(raw); s != "" {
				apiErr.Fields = append(apiErr.Fields, FieldError{Field: key, Message: s})
			}
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = errorField
	}
	if apiErr.Message == "" && len(apiErr.Fields) == 0 {
		return nil
	}
	return apiErr
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return strings.TrimSpace(list[0])
	}
	return ""
}

// parseFieldErrors reads an ordered field map or a list of field objects.
func parseFieldErrors(raw json.RawMessage) []FieldError {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case '[':
		var items []struct {
			Field          string `json:"field"`
			Message        string `json:"message"`
			DefaultMessage string `json:"defaultMessage"`
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		out := make([]FieldError, 0, len(items))
		for _, it := range items {
			msg := it.Message
			if msg == "" {
				msg = it.DefaultMessage
			}
			if msg != "" {
				out = append(out, FieldError{Field: it.Field, Message: msg})
			}
		}
		return out
	case '{':
		var out []FieldError
		dec := json.NewDecoder(bytes.NewReader(raw))
		if _, err := dec.Token(); err != nil {
			return nil
		}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return out
			}
			key, _ := tok.(string)
			var v json.RawMessage
			if err := dec.Decode(&v); err != nil {
				return out
			}
			if s := stringValue(v); s != "" {
				out = append(out, FieldError{Field: key, Message: s})
			}
		}
		return out
	}
	return nil
}

// Classify returns a short label for err for logs and metrics.
func Classify(err error) string {
	var apiErr *APIError
	var transportErr *TransportError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &apiErr):
		if apiErr.IsValidation() {
			return "validation"
		}
		return "api"
	case errors.As(err, &transportErr):
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return "truncated"
		}
		return "transport"
	default:
		return "other"
	}
}
