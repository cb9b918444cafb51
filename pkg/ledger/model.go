// Package ledger holds the canonical loan/installment records and the
// normalization engine that turns heterogeneous server payloads into them.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanType tells whether money was borrowed or lent.
type LoanType string

const (
	// Taken is money the user borrowed.
	Taken LoanType = "TAKEN"
	// Given is money the user lent.
	Given LoanType = "GIVEN"
)

// Status is the lifecycle state of a loan.
type Status string

const (
	// Active loans still have an outstanding balance.
	Active Status = "ACTIVE"
	// Closed loans are settled; their remaining amount is always zero.
	Closed Status = "CLOSED"
)

// DefaultPaymentMethodName labels installments whose method is unknown.
const DefaultPaymentMethodName = "Cash/Default"

// Loan is the normalized projection of a server loan record.
type Loan struct {
	ID              string              `json:"id"`
	Type            LoanType            `json:"type"`
	PersonName      string              `json:"personName"`
	OriginalAmount  decimal.Decimal     `json:"originalAmount"`
	StartDate       Date                `json:"startDate"`
	DueDate         Date                `json:"dueDate,omitempty"`
	InterestRate    decimal.NullDecimal `json:"interestRate"`
	Notes           string              `json:"notes,omitempty"`
	Status          Status              `json:"status"`
	RemainingAmount decimal.Decimal     `json:"remainingAmount"`
	Installments    []Installment       `json:"installments"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// Installment is one payment recorded against a loan.
type Installment struct {
	ID                string          `json:"id"`
	LoanID            string          `json:"loanId"`
	AmountPaid        decimal.Decimal `json:"amountPaid"`
	PaymentDate       Date            `json:"paymentDate"`
	PaymentMethodID   string          `json:"paymentMethodId,omitempty"`
	PaymentMethodName string          `json:"paymentMethodName"`
	Notes             string          `json:"notes,omitempty"`
}

// PaymentMethod is a read-only lookup entry.
type PaymentMethod struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider,omitempty"`
}

// MethodIndex resolves payment method ids to their records.
type MethodIndex map[string]PaymentMethod

// NewMethodIndex indexes methods by id. Later duplicates win.
func NewMethodIndex(methods []PaymentMethod) MethodIndex {
	idx := make(MethodIndex, len(methods))
	for _, m := range methods {
		if m.ID != "" {
			idx[m.ID] = m
		}
	}
	return idx
}

// Name returns the display name for id, or DefaultPaymentMethodName.
func (idx MethodIndex) Name(id string) string {
	if id == "" {
		return DefaultPaymentMethodName
	}
	if m, ok := idx[id]; ok && m.Name != "" {
		return m.Name
	}
	return DefaultPaymentMethodName
}

// PaidAmount sums the amounts of all installments.
func (l Loan) PaidAmount() decimal.Decimal {
	total := decimal.Zero
	for _, in := range l.Installments {
		total = total.Add(in.AmountPaid)
	}
	return total
}

// IsClosed reports whether the loan is closed.
func (l Loan) IsClosed() bool {
	return l.Status == Closed
}

// IsDeletable reports whether the loan can be deleted: only loans without
// installments can.
func (l Loan) IsDeletable() bool {
	return len(l.Installments) == 0
}

// Clone returns a copy of l that shares no slices with it.
func (l Loan) Clone() Loan {
	cp := l
	if l.Installments != nil {
		cp.Installments = append([]Installment(nil), l.Installments...)
	}
	return cp
}

// Equal reports whether l and o hold the same values. Decimals are compared
// numerically.
func (l Loan) Equal(o Loan) bool {
	if l.ID != o.ID || l.Type != o.Type || l.PersonName != o.PersonName ||
		l.StartDate != o.StartDate || l.DueDate != o.DueDate || l.Notes != o.Notes ||
		l.Status != o.Status || !l.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if !l.OriginalAmount.Equal(o.OriginalAmount) || !l.RemainingAmount.Equal(o.RemainingAmount) {
		return false
	}
	if l.InterestRate.Valid != o.InterestRate.Valid ||
		(l.InterestRate.Valid && !l.InterestRate.Decimal.Equal(o.InterestRate.Decimal)) {
		return false
	}
	if len(l.Installments) != len(o.Installments) {
		return false
	}
	for i := range l.Installments {
		if !l.Installments[i].Equal(o.Installments[i]) {
			return false
		}
	}
	return true
}

// Equal reports whether in and o hold the same values.
func (in Installment) Equal(o Installment) bool {
	return in.ID == o.ID &&
		in.LoanID == o.LoanID &&
		in.AmountPaid.Equal(o.AmountPaid) &&
		in.PaymentDate == o.PaymentDate &&
		in.PaymentMethodID == o.PaymentMethodID &&
		in.PaymentMethodName == o.PaymentMethodName &&
		in.Notes == o.Notes
}
