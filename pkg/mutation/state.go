package mutation

import "time"

// State is the lifecycle position of one mutation.
type State int

const (
	// Idle: nothing applied. Mutations rejected by local validation stay here.
	Idle State = iota
	// Pending: the tentative change is visible and the remote call is in flight.
	Pending
	// Committed: the server accepted the change and the snapshot was refetched.
	Committed
	// RolledBack: the server refused the change and the prior snapshot was restored.
	RolledBack
	// Partial: the parent change was committed but some sub-operations failed.
	Partial
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	case Partial:
		return "partial"
	default:
		return "unknown"
	}
}

// Kind names a mutation.
type Kind string

const (
	KindDeleteLoan        Kind = "delete_loan"
	KindCloseLoan         Kind = "close_loan"
	KindSaveLoan          Kind = "save_loan"
	KindDeleteInstallment Kind = "delete_installment"
)

// Mutation records the outcome of the most recent user action.
type Mutation struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	LoanID    string    `json:"loanId,omitempty"`
	State     State     `json:"-"`
	StateName string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Duration  string    `json:"duration,omitempty"`
}
