package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"ledger-sync/pkg/ledger"
)

func printLoans(w io.Writer, loans []ledger.Loan) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPERSON\tAMOUNT\tREMAINING\tSTART\tSTATUS\tPAYMENTS")
	for _, l := range loans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			l.ID, l.Type, l.PersonName,
			l.OriginalAmount.StringFixed(2), l.RemainingAmount.StringFixed(2),
			l.StartDate, l.Status, len(l.Installments))
	}
	tw.Flush()
}

func printSummary(w io.Writer, s ledger.Summary) {
	fmt.Fprintf(w, "\nowed by me: %s  owed to me: %s  active: %d  closed: %d\n",
		s.OwedByMe.StringFixed(2), s.OwedToMe.StringFixed(2), s.ActiveCount, s.ClosedCount)
}

func printLoan(w io.Writer, l ledger.Loan) {
	fmt.Fprintf(w, "id:         %s\n", l.ID)
	fmt.Fprintf(w, "type:       %s\n", l.Type)
	fmt.Fprintf(w, "person:     %s\n", l.PersonName)
	fmt.Fprintf(w, "amount:     %s\n", l.OriginalAmount.StringFixed(2))
	fmt.Fprintf(w, "remaining:  %s\n", l.RemainingAmount.StringFixed(2))
	fmt.Fprintf(w, "status:     %s\n", l.Status)
	fmt.Fprintf(w, "start:      %s\n", l.StartDate)
	if !l.DueDate.IsZero() {
		fmt.Fprintf(w, "due:        %s\n", l.DueDate)
	}
	if l.InterestRate.Valid {
		fmt.Fprintf(w, "interest:   %s%%\n", l.InterestRate.Decimal.String())
	}
	if l.Notes != "" {
		fmt.Fprintf(w, "notes:      %s\n", l.Notes)
	}
	if len(l.Installments) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTALLMENT\tDATE\tAMOUNT\tMETHOD\tNOTES")
	for _, in := range l.Installments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			in.ID, in.PaymentDate, in.AmountPaid.StringFixed(2), in.PaymentMethodName, in.Notes)
	}
	tw.Flush()
}

func printMethods(w io.Writer, methods []ledger.PaymentMethod) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPROVIDER")
	for _, m := range methods {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.Name, m.Provider)
	}
	tw.Flush()
}
