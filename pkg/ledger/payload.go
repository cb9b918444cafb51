package ledger

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Payload is a raw server record decoded with json.Decoder.UseNumber.
// Field names vary between endpoints and server versions; the accessors below
// take candidate names in order of preference.
type Payload map[string]interface{}

// DecodePayload decodes a single JSON object into a Payload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := unmarshalNumbers(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func unmarshalNumbers(data []byte, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	return dec.Decode(v)
}

// lookup returns the first present, non-nil value among keys.
func (p Payload) lookup(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first non-blank scalar among keys as a string.
func (p Payload) String(keys ...string) string {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		if s := scalarString(v); s != "" {
			return s
		}
	}
	return ""
}

// Decimal returns the first value among keys that parses as a decimal.
func (p Payload) Decimal(keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		v, ok := p[k]
		if !ok || v == nil {
			continue
		}
		if d, ok := toDecimal(v); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// Object returns the nested object stored under key, or nil.
func (p Payload) Object(key string) Payload {
	switch x := p[key].(type) {
	case Payload:
		return x
	case map[string]interface{}:
		return Payload(x)
	}
	return nil
}

// List coerces the value under key to a list of objects. Absent and null
// values yield an empty list, a single object yields a one-element list and
// non-object elements are skipped.
func (p Payload) List(key string) []Payload {
	return coerceList(p[key])
}

func coerceList(v interface{}) []Payload {
	switch x := v.(type) {
	case nil:
		return []Payload{}
	case Payload:
		return []Payload{x}
	case map[string]interface{}:
		return []Payload{Payload(x)}
	case []Payload:
		return x
	case []map[string]interface{}:
		out := make([]Payload, 0, len(x))
		for _, m := range x {
			out = append(out, Payload(m))
		}
		return out
	case []interface{}:
		out := make([]Payload, 0, len(x))
		for _, item := range x {
			switch m := item.(type) {
			case Payload:
				out = append(out, m)
			case map[string]interface{}:
				out = append(out, Payload(m))
			}
		}
		return out
	}
	return []Payload{}
}

func scalarString(v interface{}) string {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "undefined") {
			return ""
		}
		return s
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	}
	return decimal.Zero, false
}

// DecodePayloads decodes a JSON array of objects. Non-object elements are
// dropped.
func DecodePayloads(data []byte) ([]Payload, error) {
	var raw []interface{}
	if err := unmarshalNumbers(data, &raw); err != nil {
		return nil, err
	}
	return coerceList(raw), nil
}
