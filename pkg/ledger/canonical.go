package ledger

import "time"

// Payload renders l in the canonical server shape. Feeding the result back to
// Normalize with the same MethodIndex yields a Loan equal to l.
func (l Loan) Payload() Payload {
	p := Payload{
		"id":              l.ID,
		"type":            string(l.Type),
		"personName":      l.PersonName,
		"originalAmount":  l.OriginalAmount.String(),
		"startDate":       string(l.StartDate),
		"status":          string(l.Status),
		"remainingAmount": l.RemainingAmount.String(),
	}
	if l.DueDate != "" {
		p["dueDate"] = string(l.DueDate)
	}
	if l.InterestRate.Valid {
		p["interestRate"] = l.InterestRate.Decimal.String()
	}
	if l.Notes != "" {
		p["notes"] = l.Notes
	}
	if !l.CreatedAt.IsZero() {
		p["createdAt"] = l.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	installments := make([]interface{}, 0, len(l.Installments))
	for _, in := range l.Installments {
		installments = append(installments, in.Payload())
	}
	p["installments"] = installments

	return p
}

// Payload renders in in the canonical server shape.
func (in Installment) Payload() Payload {
	p := Payload{
		"id":                in.ID,
		"loanId":            in.LoanID,
		"amountPaid":        in.AmountPaid.String(),
		"paymentDate":       string(in.PaymentDate),
		"paymentMethodName": in.PaymentMethodName,
	}
	if in.PaymentMethodID != "" {
		p["paymentMethodId"] = in.PaymentMethodID
	}
	if in.Notes != "" {
		p["notes"] = in.Notes
	}
	return p
}
