package access

import (
	"net/url"
	"strconv"
	"strings"
)

// Range is an explicit date window, in YYYY-MM-DD form.
type Range struct {
	StartDate string `json:"startDate,omitempty" yaml:"start_date"`
	EndDate   string `json:"endDate,omitempty" yaml:"end_date"`
}

// Valid reports whether both bounds are present and not the literal "null".
func (r Range) Valid() bool {
	return present(r.StartDate) && present(r.EndDate)
}

// ListQuery selects which loans ListLoans returns.
type ListQuery struct {
	IncludeClosed bool   `json:"includeClosed" yaml:"include_closed"`
	Filter        string `json:"filter,omitempty" yaml:"filter"`
	Range         Range  `json:"range" yaml:"range"`
}

// Effective resolves the date constraint actually sent: a valid Range beats
// a named Filter; with neither, no date constraint is sent.
func (q ListQuery) Effective() ListQuery {
	out := ListQuery{IncludeClosed: q.IncludeClosed}
	switch {
	case q.Range.Valid():
		out.Range = Range{
			StartDate: strings.TrimSpace(q.Range.StartDate),
			EndDate:   strings.TrimSpace(q.Range.EndDate),
		}
	case present(q.Filter):
		out.Filter = strings.TrimSpace(q.Filter)
	}
	return out
}

// Values renders the effective query as request parameters.
func (q ListQuery) Values() url.Values {
	eff := q.Effective()
	v := url.Values{}
	v.Set("includeClosed", strconv.FormatBool(eff.IncludeClosed))
	if eff.Range.Valid() {
		v.Set("startDate", eff.Range.StartDate)
		v.Set("endDate", eff.Range.EndDate)
	} else if eff.Filter != "" {
		v.Set("filter", eff.Filter)
	}
	return v
}

func present(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && !strings.EqualFold(s, "null")
}
