package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical date-only layout.
const DateLayout = "2006-01-02"

// Date is a calendar date in YYYY-MM-DD form; the empty Date means absent.
// ISO dates order lexically, so Dates compare with < and >.
type Date string

var isoDateTime = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// ParseDate normalizes v to a Date. It accepts ISO dates and datetimes,
// time.Time, epoch milliseconds and [year, month, day, ...] arrays.
// Unparseable input yields the empty Date.
func ParseDate(v interface{}) Date {
	t, ok := parseTime(v)
	if !ok {
		return ""
	}
	return Date(t.Format(DateLayout))
}

// DateOf returns the Date of t in its own location.
func DateOf(t time.Time) Date {
	if t.IsZero() {
		return ""
	}
	return Date(t.Format(DateLayout))
}

// Time returns d as midnight UTC, or the zero time when d is empty or invalid.
func (d Date) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsZero reports whether d is absent.
func (d Date) IsZero() bool {
	return d == ""
}

// String returns d in YYYY-MM-DD form.
func (d Date) String() string {
	return string(d)
}

// ParseTime normalizes v to a time.Time, returning the zero time on failure.
func ParseTime(v interface{}) time.Time {
	t, _ := parseTime(v)
	return t
}

func parseTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x, !x.IsZero()
	case Date:
		return parseTimeString(string(x))
	case string:
		return parseTimeString(x)
	case json.Number:
		ms, err := x.Int64()
		if err != nil {
			return parseTimeString(x.String())
		}
		return time.UnixMilli(ms).UTC(), true
	case float64:
		return time.UnixMilli(int64(x)).UTC(), true
	case int64:
		return time.UnixMilli(x).UTC(), true
	case []interface{}:
		return parseTimeParts(x)
	}
	return time.Time{}, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	DateLayout,
}

func parseTimeString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "undefined":
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if isoDateTime.MatchString(s) {
		if t, err := time.Parse(DateLayout, s[:10]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseTimeParts handles [year, month, day, hour?, minute?, second?, nano?].
func parseTimeParts(parts []interface{}) (time.Time, bool) {
	if len(parts) < 3 {
		return time.Time{}, false
	}
	nums := make([]int, 7)
	for i := 0; i < len(parts) && i < 7; i++ {
		n, err := toInt(parts[i])
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}
	t := time.Date(nums[0], time.Month(nums[1]), nums[2], nums[3], nums[4], nums[5], nums[6], time.UTC)
	return t, true
}

func toInt(v interface{}) (int, error) {
	switch x := v.(type) {
	case json.Number:
		n, err := x.Int64()
		return int(n), err
	case float64:
		return int(x), nil
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case string:
		return strconv.Atoi(x)
	}
	return 0, fmt.Errorf("ledger: not a number: %v", v)
}
