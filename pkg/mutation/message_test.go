package mutation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ledger-sync/pkg/remote"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{
			name: "api message",
			err:  &remote.APIError{Status: 409, Message: "Loan has installments"},
			want: "Loan has installments",
		},
		{
			name: "first field when no message",
			err: &remote.APIError{Status: 400, Fields: []remote.FieldError{
				{Field: "personName", Message: "Person name is required"},
				{Field: "originalAmount", Message: "Amount must be greater than zero"},
			}},
			want: "Person name is required",
		},
		{
			name: "empty api error",
			err:  &remote.APIError{Status: 400},
			want: GenericMessage,
		},
		{
			name: "transport",
			err:  &remote.TransportError{Method: "GET", URL: "http://10.0.0.7:8080/loans", Err: errors.New("connection refused")},
			want: GenericMessage,
		},
		{
			name: "circuit open",
			err:  fmt.Errorf("list loans: %w", remote.ErrCircuitOpen),
			want: UnavailableMessage,
		},
		{
			name: "deadline",
			err:  &remote.TransportError{Method: "GET", URL: "http://api/loans", Err: context.DeadlineExceeded},
			want: TimeoutMessage,
		},
		{
			name: "host stripped from api message",
			err:  &remote.APIError{Status: 500, Message: "Upstream db.internal:5432 unavailable"},
			want: "Upstream unavailable",
		},
		{
			name: "local",
			err:  &LocalValidationError{Kind: KindDeleteLoan, Message: "Cannot delete"},
			want: "Cannot delete",
		},
		{
			name: "other",
			err:  errors.New("dial tcp 127.0.0.1:9000: refused"),
			want: GenericMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.err))
		})
	}
}

func TestMessage_PartialListsFailures(t *testing.T) {
	err := &PartialBatchError{Parent: "Loan", ParentID: "42", Failures: []Failure{
		{Position: 2, Label: "Installment #2 (250.00)", Message: "Rejected"},
		{Position: 3, Label: "Installment #3 (50.00)", Message: "Rejected too"},
	}}

	assert.Equal(t,
		"Loan saved, but 2 of its items failed: Installment #2 (250.00): Rejected; Installment #3 (50.00): Rejected too",
		Message(err))
}

func TestPartialBatchError_Unwrap(t *testing.T) {
	apiErr := &remote.APIError{Status: 400, Message: "bad"}
	err := &PartialBatchError{Parent: "Loan", Failures: []Failure{
		{Label: "a", Message: "bad", Err: apiErr},
	}}

	var target *remote.APIError
	assert.True(t, errors.As(err, &target))
	assert.Same(t, apiErr, target)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"See https://api.example.com/v1/loans for details", "See for details"},
		{"Cannot reach 192.168.1.20:8080", "Cannot reach"},
		{"Refused by localhost:3000", "Refused by"},
		{"Plain message", "Plain message"},
		{"Upstream api.internal.example:443:", "Upstream"},
		{"Could not reach api.example.com", "Could not reach"},
		{"Lookup of db.internal failed", "Lookup of failed"},
		{"Installment #2 (250.00): Payment date is in a closed period", "Installment #2 (250.00): Payment date is in a closed period"},
		{"Refresh and try again.", "Refresh and try again."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitize(tt.in), tt.in)
	}
}

func TestFieldMessages(t *testing.T) {
	err := fmt.Errorf("save: %w", &remote.APIError{Status: 400, Fields: []remote.FieldError{
		{Field: "amountPaid", Message: "Amount paid must be greater than zero"},
		{Field: "amountPaid", Message: "second"},
	}})

	assert.Equal(t, map[string]string{"amountPaid": "Amount paid must be greater than zero"}, FieldMessages(err))
	assert.Nil(t, FieldMessages(errors.New("x")))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "committed", Committed.String())
	assert.Equal(t, "rolled_back", RolledBack.String())
	assert.Equal(t, "partial", Partial.String())
}
