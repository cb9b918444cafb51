package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// MaxKeyLength is the longest key a store accepts.
const MaxKeyLength = 512

// ValidateKey checks if a cache key is valid.
//
// Rules:
// - Non-empty string
// - At most MaxKeyLength bytes
// - No control characters
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key too long (max %d characters)", ErrInvalidKey, MaxKeyLength)
	}

	for _, r := range key {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: key contains control character", ErrInvalidKey)
		}
	}

	return nil
}

// dateLike matches an ISO date optionally followed by a time component.
var dateLike = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

// zonedLayouts parse datetimes that carry a zone so they can be keyed by
// their UTC date.
var zonedLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
}

// DeriveKey builds the cache key for operation op called with args.
//
// The result is op alone when there are no args, otherwise op, the default
// delimiter and a JSON array of the normalized args:
//
//	DeriveKey("loans_all", true, nil, "", "2024-01-02T10:00:00Z")
//	  -> `loans_all_[true,null,null,"2024-01-02"]`
//
// Semantically equal argument lists always produce the same key.
func DeriveKey(op string, args ...interface{}) string {
	if len(args) == 0 {
		return op
	}

	normalized := make([]interface{}, len(args))
	for i, arg := range args {
		normalized[i] = NormalizeArg(arg)
	}

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return op + DefaultDelimiter + fmt.Sprintf("%v", normalized)
	}
	return op + DefaultDelimiter + string(encoded)
}

// NormalizeArg maps an argument to its canonical key form.
// nil, blank strings and the literals "null" and "undefined" become nil;
// dates and datetimes become YYYY-MM-DD. Datetimes with a zone, including
// time.Time values, are keyed by their UTC date; a datetime without a zone
// keeps the date as written.
func NormalizeArg(arg interface{}) interface{} {
	switch v := arg.(type) {
	case nil:
		return nil
	case string:
		return normalizeString(v)
	case *string:
		if v == nil {
			return nil
		}
		return normalizeString(*v)
	case time.Time:
		if v.IsZero() {
			return nil
		}
		return v.UTC().Format("2006-01-02")
	case *time.Time:
		if v == nil || v.IsZero() {
			return nil
		}
		return v.UTC().Format("2006-01-02")
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return v
	case fmt.Stringer:
		return normalizeString(v.String())
	}

	rv := reflect.ValueOf(arg)
	switch rv.Kind() {
	case reflect.String:
		return normalizeString(rv.String())
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return NormalizeArg(rv.Elem().Interface())
	}
	return arg
}

func normalizeString(s string) interface{} {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "undefined":
		return nil
	}
	if dateLike.MatchString(s) {
		return dateKey(s)
	}
	return s
}

// dateKey reduces a dateLike string to YYYY-MM-DD.
func dateKey(s string) string {
	if len(s) > 10 {
		zoned := s[:10] + "T" + s[11:]
		for _, layout := range zonedLayouts {
			if t, err := time.Parse(layout, zoned); err == nil {
				return t.UTC().Format("2006-01-02")
			}
		}
	}
	return s[:10]
}

// MatchesTag reports whether key belongs to tag: it equals tag or starts with
// tag followed by delimiter.
func MatchesTag(key, tag, delimiter string) bool {
	if key == tag {
		return true
	}
	return strings.HasPrefix(key, tag+delimiter)
}
