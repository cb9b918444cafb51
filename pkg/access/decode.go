package access

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"ledger-sync/pkg/ledger"
)

// ErrUnexpectedShape is returned when a response is neither the expected
// array nor an object carrying it under a known field.
var ErrUnexpectedShape = errors.New("access: unexpected response shape")

// decodeList accepts `[...]` or `{"<envelope>": [...]}`.
func decodeList(body json.RawMessage, envelope string) ([]ledger.Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnexpectedShape)
	}

	switch body[0] {
	case '[':
		items, err := ledger.DecodePayloads(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		return items, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		inner, ok := obj[envelope]
		inner = bytes.TrimSpace(inner)
		if !ok || len(inner) == 0 || inner[0] != '[' {
			return nil, fmt.Errorf("%w: no %q array", ErrUnexpectedShape, envelope)
		}
		items, err := ledger.DecodePayloads(inner)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("%w: %.20s", ErrUnexpectedShape, body)
}

// decodeObject accepts `{...}` or `{"<envelope>": {...}}`.
func decodeObject(body json.RawMessage, envelope string) (ledger.Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("%w: expected object", ErrUnexpectedShape)
	}
	p, err := ledger.DecodePayload(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if len(p) == 1 {
		if inner := p.Object(envelope); inner != nil {
			return inner, nil
		}
	}
	return p, nil
}
