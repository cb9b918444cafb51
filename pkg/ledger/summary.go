package ledger

import "github.com/shopspring/decimal"

// Summary totals the open balances of a loan collection.
type Summary struct {
	// OwedByMe is the remaining amount across active TAKEN loans
	OwedByMe decimal.Decimal `json:"owedByMe"`
	// OwedToMe is the remaining amount across active GIVEN loans
	OwedToMe decimal.Decimal `json:"owedToMe"`
	// ActiveCount and ClosedCount count loans by status
	ActiveCount int `json:"activeCount"`
	ClosedCount int `json:"closedCount"`
}

// Summarize computes the Summary of loans.
func Summarize(loans []Loan) Summary {
	s := Summary{OwedByMe: decimal.Zero, OwedToMe: decimal.Zero}
	for _, l := range loans {
		if l.IsClosed() {
			s.ClosedCount++
			continue
		}
		s.ActiveCount++
		switch l.Type {
		case Taken:
			s.OwedByMe = s.OwedByMe.Add(l.RemainingAmount)
		case Given:
			s.OwedToMe = s.OwedToMe.Add(l.RemainingAmount)
		}
	}
	return s
}

// Find returns the loan with id and its index, or -1.
func Find(loans []Loan, id string) (Loan, int) {
	for i, l := range loans {
		if l.ID == id {
			return l, i
		}
	}
	return Loan{}, -1
}
