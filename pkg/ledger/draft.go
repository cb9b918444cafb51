package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LoanDraft is the editable form of a loan: the header fields sent on create
// or update plus the installments the user entered.
type LoanDraft struct {
	// ID is empty for a loan that has not been created yet
	ID             string           `json:"-"`
	Type           LoanType         `json:"type"`
	PersonName     string           `json:"personName"`
	OriginalAmount decimal.Decimal  `json:"originalAmount"`
	StartDate      Date             `json:"startDate"`
	DueDate        Date             `json:"dueDate,omitempty"`
	InterestRate   *decimal.Decimal `json:"interestRate,omitempty"`
	Notes          string           `json:"notes,omitempty"`

	Installments []InstallmentDraft `json:"-"`
}

// InstallmentDraft is an installment as entered. Drafts with an ID already
// exist on the server and are not sent again.
type InstallmentDraft struct {
	ID              string          `json:"-"`
	AmountPaid      decimal.Decimal `json:"amountPaid"`
	PaymentDate     Date            `json:"paymentDate"`
	PaymentMethodID string          `json:"paymentMethodId,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Label names the draft for user-facing messages; position is 1-based.
func (d InstallmentDraft) Label(position int) string {
	return fmt.Sprintf("Installment #%d (%s)", position, d.AmountPaid.StringFixed(2))
}

// Draft returns the editable form of l.
func (l Loan) Draft() LoanDraft {
	d := LoanDraft{
		ID:             l.ID,
		Type:           l.Type,
		PersonName:     l.PersonName,
		OriginalAmount: l.OriginalAmount,
		StartDate:      l.StartDate,
		DueDate:        l.DueDate,
		Notes:          l.Notes,
	}
	if l.InterestRate.Valid {
		rate := l.InterestRate.Decimal
		d.InterestRate = &rate
	}
	for _, in := range l.Installments {
		d.Installments = append(d.Installments, InstallmentDraft{
			ID:              in.ID,
			AmountPaid:      in.AmountPaid,
			PaymentDate:     in.PaymentDate,
			PaymentMethodID: in.PaymentMethodID,
			Notes:           in.Notes,
		})
	}
	return d
}

// Pending returns the installments that have not been created yet, with their
// 1-based positions in d.Installments.
func (d LoanDraft) Pending() ([]InstallmentDraft, []int) {
	var out []InstallmentDraft
	var positions []int
	for i, in := range d.Installments {
		if in.ID == "" {
			out = append(out, in)
			positions = append(positions, i+1)
		}
	}
	return out, positions
}
