// Package remotetest provides an in-memory loan service speaking the remote
// resource protocol, for tests and local demos.
package remotetest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"ledger-sync/pkg/ledger"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// Style selects how the service shapes its payloads.
type Style int

const (
	// Canonical renders plain arrays and canonical field names, with the
	// remaining amount computed server side.
	Canonical Style = iota
	// Mixed renders alternate field names (_id, installmentId, nested
	// paymentMethod objects), wraps lists in envelopes and omits the
	// remaining amount.
	Mixed
)

// Response overrides the service's answer to one request.
type Response struct {
	Status int
	// Body is encoded as JSON; a []byte body is written verbatim.
	Body interface{}
}

// Interceptor may answer a request before the service does. Returning nil lets
// the request through.
type Interceptor func(r *http.Request, body ledger.Payload) *Response

// Recorded is a request seen by the service.
type Recorded struct {
	Method string
	Path   string
	Query  string
	Body   ledger.Payload
}

type installmentRecord struct {
	ID              string
	AmountPaid      decimal.Decimal
	PaymentDate     string
	PaymentMethodID string
	Notes           string
}

type loanRecord struct {
	ID             string
	Type           string
	PersonName     string
	OriginalAmount decimal.Decimal
	StartDate      string
	DueDate        string
	InterestRate   string
	Notes          string
	Status         string
	CreatedAt      time.Time
	Installments   []installmentRecord
}

// Service is a fake remote loan service. The zero value is not usable; call
// NewService.
type Service struct {
	mu        sync.Mutex
	loans     map[string]*loanRecord
	methods   []ledger.PaymentMethod
	style     Style
	now       func() time.Time
	intercept Interceptor
	requests  []Recorded
	router    *mux.Router
}

// Option configures a Service.
type Option func(*Service)

// WithStyle sets the payload style.
func WithStyle(style Style) Option {
	return func(s *Service) { s.style = style }
}

// WithClock sets the time source used for createdAt and preset filters.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPaymentMethods replaces the default payment methods.
func WithPaymentMethods(methods ...ledger.PaymentMethod) Option {
	return func(s *Service) { s.methods = methods }
}

// NewService creates an empty service.
func NewService(opts ...Option) *Service {
	s := &Service{
		loans: make(map[string]*loanRecord),
		methods: []ledger.PaymentMethod{
			{ID: "pm-bank", Name: "Bank Transfer", Provider: "bank"},
			{ID: "pm-card", Name: "Card", Provider: "visa"},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/loans", s.listLoans).Methods(http.MethodGet)
	r.HandleFunc("/loans", s.createLoan).Methods(http.MethodPost)
	r.HandleFunc("/loans/{id}", s.getLoan).Methods(http.MethodGet)
	r.HandleFunc("/loans/{id}", s.updateLoan).Methods(http.MethodPut)
	r.HandleFunc("/loans/{id}", s.deleteLoan).Methods(http.MethodDelete)
	r.HandleFunc("/loans/{id}/installments", s.addInstallment).Methods(http.MethodPost)
	r.HandleFunc("/loans/{id}/installments/{installmentId}", s.deleteInstallment).Methods(http.MethodDelete)
	r.HandleFunc("/payment-methods", s.listPaymentMethods).Methods(http.MethodGet)
	s.router = r

	return s
}

// SetInterceptor installs (or with nil, removes) a request interceptor.
func (s *Service) SetInterceptor(fn Interceptor) {
	s.mu.Lock()
	s.intercept = fn
	s.mu.Unlock()
}

// Requests returns every request seen so far.
func (s *Service) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Recorded, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many requests matched method and path prefix.
func (s *Service) CountRequests(method, pathPrefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// ResetRequests clears the request log.
func (s *Service) ResetRequests() {
	s.mu.Lock()
	s.requests = nil
	s.mu.Unlock()
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body ledger.Payload
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		r.Body.Close()
		if len(bytes.TrimSpace(data)) > 0 {
			body, _ = ledger.DecodePayload(data)
		}
		r.Body = io.NopCloser(bytes.NewReader(data))
	}

	s.mu.Lock()
	s.requests = append(s.requests, Recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   body,
	})
	intercept := s.intercept
	s.mu.Unlock()

	if intercept != nil {
		if resp := intercept(r, body); resp != nil {
			writeJSON(w, resp.Status, resp.Body)
			return
		}
	}
	s.router.ServeHTTP(w, r)
}

// Seed stores a loan directly and returns its id. The payload uses canonical
// field names; installments may be included.
func (s *Service) Seed(p ledger.Payload) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &loanRecord{Status: string(ledger.Active), CreatedAt: s.now()}
	rec.ID = p.String("id")
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	applyLoanFields(rec, p)
	if created := ledger.ParseTime(p["createdAt"]); !created.IsZero() {
		rec.CreatedAt = created
	}
	for _, ip := range p.List("installments") {
		in := installmentFrom(ip)
		if in.ID == "" {
			in.ID = uuid.NewString()
		}
		rec.Installments = append(rec.Installments, in)
	}
	s.loans[rec.ID] = rec
	return rec.ID
}

// Loan returns the stored loan in canonical shape.
func (s *Service) Loan(id string) (ledger.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.loans[id]
	if !ok {
		return nil, false
	}
	return s.renderLoan(rec, Canonical), true
}

// LoanCount returns the number of stored loans.
func (s *Service) LoanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loans)
}

func (s *Service) listLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeClosed := q.Get("includeClosed") == "true"
	from, to := q.Get("startDate"), q.Get("endDate")
	if from == "" && to == "" {
		from, to = s.presetRange(q.Get("filter"))
	}

	s.mu.Lock()
	recs := make([]*loanRecord, 0, len(s.loans))
	for _, rec := range s.loans {
		if !includeClosed && rec.Status == string(ledger.Closed) {
			continue
		}
		if from != "" && rec.StartDate < from {
			continue
		}
		if to != "" && rec.StartDate > to {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	out := make([]interface{}, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.renderLoan(rec, s.style))
	}
	s.mu.Unlock()

	if s.style == Mixed {
		writeJSON(w, http.StatusOK, map[string]interface{}{"loans": out})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) presetRange(filter string) (string, string) {
	var days int
	switch strings.ToLower(filter) {
	case "lastweek":
		days = 7
	case "lastmonth":
		days = 30
	case "lastyear":
		days = 365
	default:
		return "", ""
	}
	now := s.now()
	return now.AddDate(0, 0, -days).Format(ledger.DateLayout), now.Format(ledger.DateLayout)
}

func (s *Service) getLoan(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.loans[mux.Vars(r)["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Loan not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.renderLoan(rec, s.style))
}

func (s *Service) createLoan(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)

	var fields fieldErrors
	if strings.TrimSpace(body.String("personName")) == "" {
		fields = append(fields, fieldError{"personName", "Person name is required"})
	}
	if amount, ok := body.Decimal("originalAmount"); !ok || !amount.IsPositive() {
		fields = append(fields, fieldError{"originalAmount", "Amount must be greater than zero"})
	}
	if body.String("startDate") == "" {
		fields = append(fields, fieldError{"startDate", "Start date is required"})
	}
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &loanRecord{
		ID:        uuid.NewString(),
		Status:    string(ledger.Active),
		CreatedAt: s.now(),
	}
	applyLoanFields(rec, body)
	s.loans[rec.ID] = rec
	writeJSON(w, http.StatusCreated, s.renderLoan(rec, s.style))
}

func (s *Service) updateLoan(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.loans[mux.Vars(r)["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Loan not found"})
		return
	}
	if v, present := body["originalAmount"]; present && v != nil {
		if amount, ok := body.Decimal("originalAmount"); !ok || !amount.IsPositive() {
			writeJSON(w, http.StatusBadRequest, fieldErrors{{"originalAmount", "Amount must be greater than zero"}})
			return
		}
	}
	applyLoanFields(rec, body)
	writeJSON(w, http.StatusOK, s.renderLoan(rec, s.style))
}

func (s *Service) deleteLoan(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := mux.Vars(r)["id"]
	rec, ok := s.loans[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Loan not found"})
		return
	}
	if len(rec.Installments) > 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Cannot delete a loan that has installments"})
		return
	}
	delete(s.loans, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) addInstallment(w http.ResponseWriter, r *http.Request) {
	body := decodeBody(r)

	if amount, ok := body.Decimal("amountPaid"); !ok || !amount.IsPositive() {
		writeJSON(w, http.StatusBadRequest, fieldErrors{{"amountPaid", "Amount paid must be greater than zero"}})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.loans[mux.Vars(r)["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Loan not found"})
		return
	}
	in := installmentFrom(body)
	in.ID = uuid.NewString()
	if in.PaymentDate == "" {
		in.PaymentDate = s.now().Format(ledger.DateLayout)
	}
	rec.Installments = append(rec.Installments, in)
	writeJSON(w, http.StatusCreated, s.renderInstallment(rec.ID, in, s.style))
}

func (s *Service) deleteInstallment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vars := mux.Vars(r)
	rec, ok := s.loans[vars["id"]]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Loan not found"})
		return
	}
	for i, in := range rec.Installments {
		if in.ID == vars["installmentId"] {
			rec.Installments = append(rec.Installments[:i], rec.Installments[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Installment not found"})
}

func (s *Service) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]map[string]string, 0, len(s.methods))
	for _, m := range s.methods {
		out = append(out, map[string]string{"id": m.ID, "name": m.Name, "provider": m.Provider})
	}
	style := s.style
	s.mu.Unlock()

	if style == Mixed {
		writeJSON(w, http.StatusOK, map[string]interface{}{"paymentMethods": out})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) renderLoan(rec *loanRecord, style Style) ledger.Payload {
	p := ledger.Payload{
		"type":           rec.Type,
		"personName":     rec.PersonName,
		"originalAmount": rec.OriginalAmount.String(),
		"startDate":      rec.StartDate,
		"status":         rec.Status,
		"createdAt":      rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.DueDate != "" {
		p["dueDate"] = rec.DueDate
	}
	if rec.InterestRate != "" {
		p["interestRate"] = rec.InterestRate
	}
	if rec.Notes != "" {
		p["notes"] = rec.Notes
	}

	installments := make([]interface{}, 0, len(rec.Installments))
	paid := decimal.Zero
	for _, in := range rec.Installments {
		installments = append(installments, s.renderInstallment(rec.ID, in, style))
		paid = paid.Add(in.AmountPaid)
	}

	switch style {
	case Mixed:
		p["_id"] = rec.ID
		switch len(installments) {
		case 0:
			p["installments"] = nil
		case 1:
			// Single installments arrive as a bare object.
			p["installments"] = installments[0]
		default:
			p["installments"] = installments
		}
	default:
		p["id"] = rec.ID
		p["installments"] = installments
		remaining := rec.OriginalAmount.Sub(paid)
		if rec.Status == string(ledger.Closed) {
			remaining = decimal.Zero
		}
		p["remainingAmount"] = remaining.String()
	}
	return p
}

func (s *Service) renderInstallment(loanID string, in installmentRecord, style Style) ledger.Payload {
	p := ledger.Payload{
		"amountPaid":  in.AmountPaid.String(),
		"paymentDate": in.PaymentDate,
	}
	if in.Notes != "" {
		p["notes"] = in.Notes
	}
	switch style {
	case Mixed:
		p["installmentId"] = in.ID
		p["loan"] = map[string]string{"_id": loanID}
		if in.PaymentMethodID != "" {
			p["paymentMethod"] = map[string]string{"id": in.PaymentMethodID}
		}
	default:
		p["id"] = in.ID
		p["loanId"] = loanID
		if in.PaymentMethodID != "" {
			p["paymentMethodId"] = in.PaymentMethodID
		}
	}
	return p
}

func applyLoanFields(rec *loanRecord, p ledger.Payload) {
	if v := p.String("type"); v != "" {
		rec.Type = v
	}
	if v := p.String("personName"); v != "" {
		rec.PersonName = v
	}
	if v, ok := p.Decimal("originalAmount"); ok {
		rec.OriginalAmount = v
	}
	if v := ledger.ParseDate(p["startDate"]); !v.IsZero() {
		rec.StartDate = v.String()
	}
	if v := ledger.ParseDate(p["dueDate"]); !v.IsZero() {
		rec.DueDate = v.String()
	}
	if v, ok := p.Decimal("interestRate"); ok {
		rec.InterestRate = v.String()
	}
	if v := p.String("notes"); v != "" {
		rec.Notes = v
	}
	if v := p.String("status"); v != "" {
		rec.Status = strings.ToUpper(v)
	}
}

func installmentFrom(p ledger.Payload) installmentRecord {
	in := installmentRecord{
		ID:              p.String("id"),
		PaymentMethodID: p.String("paymentMethodId"),
		Notes:           p.String("notes"),
	}
	in.AmountPaid, _ = p.Decimal("amountPaid")
	if d := ledger.ParseDate(p["paymentDate"]); !d.IsZero() {
		in.PaymentDate = d.String()
	}
	return in
}

func decodeBody(r *http.Request) ledger.Payload {
	data, _ := io.ReadAll(r.Body)
	p, err := ledger.DecodePayload(data)
	if err != nil || p == nil {
		return ledger.Payload{}
	}
	return p
}

type fieldError struct {
	Field   string
	Message string
}

// fieldErrors marshals as a JSON object keeping insertion order.
type fieldErrors []fieldError

func (f fieldErrors) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fe := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(fe.Field)
		v, _ := json.Marshal(fe.Message)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FieldErrors builds an ordered field→message validation body for use in a
// Response. Arguments alternate field and message.
func FieldErrors(pairs ...string) json.Marshaler {
	var f fieldErrors
	for i := 0; i+1 < len(pairs); i += 2 {
		f = append(f, fieldError{pairs[i], pairs[i+1]})
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	if raw, ok := body.([]byte); ok {
		w.WriteHeader(status)
		w.Write(raw)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}
