package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Candidate field names, most preferred first.
var (
	loanIDKeys        = []string{"id", "loanId", "_id"}
	installmentIDKeys = []string{"id", "installmentId", "_id"}
	methodIDKeys      = []string{"id", "paymentMethodId", "_id"}
	typeKeys          = []string{"type", "loanType"}
	personKeys        = []string{"personName", "person", "counterparty"}
	originalKeys      = []string{"originalAmount", "principal", "amount"}
	remainingKeys     = []string{"remainingAmount", "remainingBalance", "balance"}
	paidKeys          = []string{"amountPaid", "amount"}
	createdKeys       = []string{"createdAt", "created_at", "createdDate"}
	notesKeys         = []string{"notes", "description"}
)

// Normalize converts a raw loan payload into a canonical Loan:
//
//  1. the identifier is resolved from id, loanId or _id;
//  2. installments are coerced to a list whatever shape the server sent;
//  3. each installment gets its id, payment method id (nested or flat) and a
//     payment method name joined from idx;
//  4. the remaining amount comes from the server when supplied, otherwise
//     original minus the sum paid, and is pinned to zero once closed;
//  5. status defaults to ACTIVE;
//  6. installments are sorted by payment date, newest first.
//
// Normalize never fails on shape mismatches and does not modify raw.
// It is idempotent over its own output: Normalize(Normalize(x).Payload()) is
// equal to Normalize(x).
func Normalize(raw Payload, idx MethodIndex) Loan {
	if raw == nil {
		raw = Payload{}
	}

	loan := Loan{
		ID:           raw.String(loanIDKeys...),
		Type:         parseLoanType(raw.String(typeKeys...)),
		PersonName:   raw.String(personKeys...),
		StartDate:    dateField(raw, "startDate", "loanDate"),
		DueDate:      dateField(raw, "dueDate"),
		Notes:        raw.String(notesKeys...),
		Status:       parseStatus(raw.String("status")),
		CreatedAt:    timeField(raw, createdKeys...),
		Installments: []Installment{},
	}

	loan.OriginalAmount, _ = raw.Decimal(originalKeys...)
	if rate, ok := raw.Decimal("interestRate"); ok {
		loan.InterestRate.Decimal = rate
		loan.InterestRate.Valid = true
	}

	for _, ri := range raw.List("installments") {
		loan.Installments = append(loan.Installments, normalizeInstallment(ri, loan.ID, idx))
	}
	SortInstallments(loan.Installments)

	loan.RemainingAmount = remaining(loan, raw)

	return loan
}

// NormalizeAll normalizes every payload and sorts the result with SortLoans.
func NormalizeAll(raws []Payload, idx MethodIndex) []Loan {
	loans := make([]Loan, 0, len(raws))
	for _, raw := range raws {
		loans = append(loans, Normalize(raw, idx))
	}
	SortLoans(loans)
	return loans
}

func normalizeInstallment(raw Payload, parentID string, idx MethodIndex) Installment {
	in := Installment{
		ID:          raw.String(installmentIDKeys...),
		LoanID:      raw.String("loanId"),
		PaymentDate: dateField(raw, "paymentDate", "date"),
		Notes:       raw.String(notesKeys...),
	}
	if in.LoanID == "" {
		if parent := raw.Object("loan"); parent != nil {
			in.LoanID = parent.String(loanIDKeys...)
		}
	}
	if in.LoanID == "" {
		in.LoanID = parentID
	}

	in.AmountPaid, _ = raw.Decimal(paidKeys...)

	if nested := raw.Object("paymentMethod"); nested != nil {
		in.PaymentMethodID = nested.String(methodIDKeys...)
	}
	if in.PaymentMethodID == "" {
		in.PaymentMethodID = raw.String("paymentMethodId")
	}
	in.PaymentMethodName = idx.Name(in.PaymentMethodID)

	return in
}

// remaining derives the remaining amount for a loan whose other fields are
// already normalized.
func remaining(loan Loan, raw Payload) decimal.Decimal {
	if loan.Status == Closed {
		return decimal.Zero
	}
	if v, ok := raw.Decimal(remainingKeys...); ok {
		return v
	}
	return loan.OriginalAmount.Sub(loan.PaidAmount())
}

// RecomputeRemaining derives the remaining amount from l's own fields,
// ignoring any server-supplied value.
func RecomputeRemaining(l Loan) decimal.Decimal {
	if l.Status == Closed {
		return decimal.Zero
	}
	return l.OriginalAmount.Sub(l.PaidAmount())
}

// SortLoans orders loans by CreatedAt, newest first. Loans without CreatedAt
// sort as the earliest; ties break on ID so the order is deterministic.
func SortLoans(loans []Loan) {
	sort.SliceStable(loans, func(i, j int) bool {
		a, b := loans[i].CreatedAt, loans[j].CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return loans[i].ID < loans[j].ID
	})
}

// SortInstallments orders installments by PaymentDate, newest first, ties on ID.
func SortInstallments(ins []Installment) {
	sort.SliceStable(ins, func(i, j int) bool {
		if ins[i].PaymentDate != ins[j].PaymentDate {
			return ins[i].PaymentDate > ins[j].PaymentDate
		}
		return ins[i].ID < ins[j].ID
	})
}

func parseLoanType(s string) LoanType {
	switch strings.ToUpper(s) {
	case "GIVEN", "LENT":
		return Given
	case "TAKEN", "BORROWED":
		return Taken
	}
	return LoanType(strings.ToUpper(s))
}

func parseStatus(s string) Status {
	if strings.EqualFold(s, string(Closed)) {
		return Closed
	}
	return Active
}

func dateField(raw Payload, keys ...string) Date {
	v, ok := raw.lookup(keys...)
	if !ok {
		return ""
	}
	return ParseDate(v)
}

func timeField(raw Payload, keys ...string) time.Time {
	v, ok := raw.lookup(keys...)
	if !ok {
		return time.Time{}
	}
	return ParseTime(v).UTC()
}

// NormalizeMethods converts raw payment method payloads, dropping entries
// without an identifier.
func NormalizeMethods(raws []Payload) []PaymentMethod {
	out := make([]PaymentMethod, 0, len(raws))
	for _, raw := range raws {
		m := PaymentMethod{
			ID:       raw.String(methodIDKeys...),
			Name:     raw.String("name", "displayName", "label"),
			Provider: raw.String("provider", "type"),
		}
		if m.ID == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}
