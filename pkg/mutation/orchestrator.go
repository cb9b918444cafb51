// Package mutation applies user intents to the loan list optimistically.
//
// Every mutation first swaps in a tentative snapshot so the change is visible
// at once, then calls the service. On success the list is refetched and the
// result committed; on failure the exact snapshot that was current before the
// mutation is restored. Saving a loan with several new installments may end
// half way: the header and the accepted installments are kept and the failed
// ones are reported for retry.
package mutation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"ledger-sync/pkg/access"
	"ledger-sync/pkg/batch"
	"ledger-sync/pkg/ledger"
	"ledger-sync/pkg/logging"
	"ledger-sync/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Backend is the subset of access.Client the orchestrator drives.
type Backend interface {
	ListLoans(ctx context.Context, q access.ListQuery) ([]ledger.Payload, error)
	GetLoan(ctx context.Context, id string) (ledger.Payload, error)
	ListPaymentMethods(ctx context.Context) ([]ledger.PaymentMethod, error)
	CreateLoan(ctx context.Context, draft ledger.LoanDraft) (ledger.Payload, error)
	UpdateLoan(ctx context.Context, id string, patch interface{}) (ledger.Payload, error)
	CloseLoan(ctx context.Context, id string) (ledger.Payload, error)
	DeleteLoan(ctx context.Context, id string) error
	AddInstallment(ctx context.Context, loanID string, draft ledger.InstallmentDraft) (ledger.Payload, error)
	DeleteInstallment(ctx context.Context, loanID, installmentID string) error
}

var _ Backend = (*access.Client)(nil)

// Snapshot is an immutable view of the loan list. Never modify a Snapshot
// returned by the orchestrator; derive a new one instead.
type Snapshot struct {
	Loans     []ledger.Loan          `json:"loans"`
	Methods   []ledger.PaymentMethod `json:"paymentMethods"`
	Query     access.ListQuery       `json:"query"`
	Version   uint64                 `json:"version"`
	FetchedAt time.Time              `json:"fetchedAt"`
	// Tentative is set while a mutation is pending
	Tentative bool `json:"tentative"`
}

// Find returns the loan with id.
func (s *Snapshot) Find(id string) (ledger.Loan, bool) {
	l, i := ledger.Find(s.Loans, id)
	return l, i >= 0
}

// Config configures an Orchestrator.
type Config struct {
	// Query is the initial list query
	Query access.ListQuery

	// BatchLimit caps concurrent installment calls (0 = unbounded)
	BatchLimit int

	// OnSaved is called with the refetched loan after a fully successful save
	OnSaved func(loan ledger.Loan)

	Notifier Notifier
	Metrics  metrics.MetricsCollector
	Logger   *logging.Logger
}

// Orchestrator owns the loan snapshot and serializes mutations on it.
type Orchestrator struct {
	backend  Backend
	config   Config
	notifier Notifier
	metrics  metrics.MetricsCollector
	logger   *logging.Logger

	// mu serializes mutations and refreshes
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
	last atomic.Pointer[Mutation]
}

// New creates an Orchestrator over backend with an empty snapshot.
func New(backend Backend, config Config) *Orchestrator {
	if config.Notifier == nil {
		config.Notifier = LogNotifier{Logger: config.Logger}
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}

	o := &Orchestrator{
		backend:  backend,
		config:   config,
		notifier: config.Notifier,
		metrics:  config.Metrics,
		logger:   config.Logger.Or().Named("mutation"),
	}
	o.snap.Store(&Snapshot{Loans: []ledger.Loan{}, Query: config.Query})
	return o
}

// Snapshot returns the current snapshot. It is never nil.
func (o *Orchestrator) Snapshot() *Snapshot {
	return o.snap.Load()
}

// Last returns the most recent mutation, if any.
func (o *Orchestrator) Last() (Mutation, bool) {
	m := o.last.Load()
	if m == nil {
		return Mutation{}, false
	}
	return *m, true
}

// Refresh refetches the loan list and payment methods for the current query
// and replaces the snapshot. On error the snapshot is left as it was.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refresh(ctx, o.Snapshot().Query)
}

// SetQuery changes the list query and refreshes.
func (o *Orchestrator) SetQuery(ctx context.Context, q access.ListQuery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refresh(ctx, q)
}

func (o *Orchestrator) refresh(ctx context.Context, q access.ListQuery) error {
	var (
		raws    []ledger.Payload
		methods []ledger.PaymentMethod
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		raws, err = o.backend.ListLoans(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		methods, err = o.backend.ListPaymentMethods(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	prev := o.Snapshot()
	next := &Snapshot{
		Loans:     ledger.NormalizeAll(raws, ledger.NewMethodIndex(methods)),
		Methods:   methods,
		Query:     q,
		Version:   prev.Version + 1,
		FetchedAt: time.Now(),
	}
	o.snap.Store(next)
	return nil
}

// apply swaps in a tentative snapshot whose loans are edit(copy of current)
// and returns the snapshot it replaced.
func (o *Orchestrator) apply(edit func(loans []ledger.Loan) []ledger.Loan) *Snapshot {
	prev := o.Snapshot()
	loans := make([]ledger.Loan, len(prev.Loans))
	copy(loans, prev.Loans)

	next := *prev
	next.Loans = edit(loans)
	next.Version = prev.Version + 1
	next.Tentative = true
	o.snap.Store(&next)
	return prev
}

// commit refetches after a successful remote write. A failed refetch keeps
// the tentative state, which matches what the server accepted.
func (o *Orchestrator) commit(ctx context.Context, m *Mutation) {
	if err := o.refresh(ctx, o.Snapshot().Query); err != nil {
		o.logger.Warn("refetch after mutation failed",
			zap.String("mutation_id", m.ID),
			zap.String("kind", string(m.Kind)),
			zap.Error(err),
		)
		cur := *o.Snapshot()
		cur.Tentative = false
		o.snap.Store(&cur)
	}
}

func (o *Orchestrator) begin(kind Kind, loanID string) *Mutation {
	return &Mutation{
		ID:        uuid.NewString(),
		Kind:      kind,
		LoanID:    loanID,
		State:     Idle,
		StartedAt: time.Now(),
	}
}

func (o *Orchestrator) finish(m *Mutation, state State, err error) {
	m.State = state
	m.StateName = state.String()
	m.Duration = time.Since(m.StartedAt).String()
	if err != nil {
		m.Message = Message(err)
	}
	o.last.Store(m)
	o.metrics.RecordMutation(string(m.Kind), state.String())

	fields := []zap.Field{
		zap.String("mutation_id", m.ID),
		zap.String("kind", string(m.Kind)),
		zap.String("loan_id", m.LoanID),
		zap.String("state", state.String()),
	}
	if err != nil {
		o.logger.Info("mutation finished with error", append(fields, zap.Error(err))...)
		return
	}
	o.logger.Debug("mutation finished", fields...)
}

func (o *Orchestrator) notifyError(m *Mutation, err error) {
	o.notifier.Notify(Notification{
		Level:   LevelError,
		Kind:    m.Kind,
		LoanID:  m.LoanID,
		Message: Message(err),
		Fields:  FieldMessages(err),
	})
}

func (o *Orchestrator) notifySuccess(m *Mutation, msg string) {
	o.notifier.Notify(Notification{
		Level:   LevelSuccess,
		Kind:    m.Kind,
		LoanID:  m.LoanID,
		Message: msg,
	})
}

func (o *Orchestrator) reject(m *Mutation, msg string) error {
	err := &LocalValidationError{Kind: m.Kind, LoanID: m.LoanID, Message: msg}
	o.finish(m, Idle, err)
	o.notifyError(m, err)
	return err
}

// DeleteLoan deletes a loan that has no installments. Loans with installments
// are rejected locally without contacting the service.
func (o *Orchestrator) DeleteLoan(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := o.begin(KindDeleteLoan, id)

	loan, ok := o.Snapshot().Find(id)
	if !ok {
		return o.reject(m, "Loan not found. Refresh and try again.")
	}
	if !loan.IsDeletable() {
		return o.reject(m, "Cannot delete a loan that has installments. Delete its installments first.")
	}

	m.State = Pending
	prev := o.apply(func(loans []ledger.Loan) []ledger.Loan {
		_, i := ledger.Find(loans, id)
		return append(loans[:i], loans[i+1:]...)
	})

	if err := o.backend.DeleteLoan(ctx, id); err != nil {
		o.snap.Store(prev)
		o.finish(m, RolledBack, err)
		o.notifyError(m, err)
		return err
	}

	o.commit(ctx, m)
	o.finish(m, Committed, nil)
	o.notifySuccess(m, "Loan deleted.")
	return nil
}

// CloseLoan marks a loan CLOSED with a zero remaining amount. Closing an
// already closed loan does nothing.
func (o *Orchestrator) CloseLoan(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := o.begin(KindCloseLoan, id)

	loan, ok := o.Snapshot().Find(id)
	if !ok {
		return o.reject(m, "Loan not found. Refresh and try again.")
	}
	if loan.IsClosed() {
		o.logger.Debug("loan already closed", zap.String("loan_id", id))
		return nil
	}

	m.State = Pending
	prev := o.apply(func(loans []ledger.Loan) []ledger.Loan {
		_, i := ledger.Find(loans, id)
		closed := loans[i].Clone()
		closed.Status = ledger.Closed
		closed.RemainingAmount = ledger.RecomputeRemaining(closed)
		loans[i] = closed
		return loans
	})

	if _, err := o.backend.CloseLoan(ctx, id); err != nil {
		o.snap.Store(prev)
		o.finish(m, RolledBack, err)
		o.notifyError(m, err)
		return err
	}

	o.commit(ctx, m)
	o.finish(m, Committed, nil)
	o.notifySuccess(m, "Loan closed.")
	return nil
}

// DeleteInstallment removes one installment and recomputes the loan's
// remaining amount.
func (o *Orchestrator) DeleteInstallment(ctx context.Context, loanID, installmentID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := o.begin(KindDeleteInstallment, loanID)

	loan, ok := o.Snapshot().Find(loanID)
	if !ok {
		return o.reject(m, "Loan not found. Refresh and try again.")
	}
	pos := -1
	for i, in := range loan.Installments {
		if in.ID == installmentID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return o.reject(m, "Installment not found. Refresh and try again.")
	}

	m.State = Pending
	prev := o.apply(func(loans []ledger.Loan) []ledger.Loan {
		_, i := ledger.Find(loans, loanID)
		l := loans[i].Clone()
		l.Installments = append(l.Installments[:pos], l.Installments[pos+1:]...)
		l.RemainingAmount = ledger.RecomputeRemaining(l)
		loans[i] = l
		return loans
	})

	if err := o.backend.DeleteInstallment(ctx, loanID, installmentID); err != nil {
		o.snap.Store(prev)
		o.finish(m, RolledBack, err)
		o.notifyError(m, err)
		return err
	}

	o.commit(ctx, m)
	o.finish(m, Committed, nil)
	o.notifySuccess(m, "Installment deleted.")
	return nil
}

// SaveResult is the outcome of SaveLoan.
type SaveResult struct {
	// Loan is the loan as refetched after the save
	Loan ledger.Loan
	// Failures lists the installments that could not be added, in draft order
	Failures []Failure
	// KeepOpen tells the caller to keep the editor open for a retry
	KeepOpen bool

	retry ledger.LoanDraft
}

// RetryDraft returns a draft of the saved loan holding only the installments
// that failed, ready to be passed back to SaveLoan.
func (r SaveResult) RetryDraft() ledger.LoanDraft {
	return r.retry
}

// SaveLoan creates or updates the loan header, then adds every draft
// installment that has no id yet. Installment calls run concurrently and fail
// independently. When some of them fail the header and the accepted
// installments are kept and a *PartialBatchError is returned alongside a
// result whose RetryDraft holds the failed items.
func (o *Orchestrator) SaveLoan(ctx context.Context, draft ledger.LoanDraft) (SaveResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := o.begin(KindSaveLoan, draft.ID)
	m.State = Pending

	prev := o.apply(func(loans []ledger.Loan) []ledger.Loan {
		return applyDraft(loans, draft)
	})

	var (
		header ledger.Payload
		err    error
	)
	if draft.ID == "" {
		header, err = o.backend.CreateLoan(ctx, draft)
	} else {
		header, err = o.backend.UpdateLoan(ctx, draft.ID, draft)
	}
	if err != nil {
		o.snap.Store(prev)
		o.finish(m, RolledBack, err)
		o.notifyError(m, err)
		return SaveResult{}, err
	}

	id := draft.ID
	if id == "" {
		id = ledger.Normalize(header, nil).ID
	}
	if id == "" {
		err := errors.New("mutation: service returned a loan without an id")
		o.snap.Store(prev)
		o.finish(m, RolledBack, err)
		o.notifyError(m, err)
		return SaveResult{}, err
	}
	m.LoanID = id

	pending, positions := draft.Pending()
	results := batch.Run(ctx, pending, o.config.BatchLimit,
		func(ctx context.Context, i int, in ledger.InstallmentDraft) (ledger.Payload, error) {
			return o.backend.AddInstallment(ctx, id, in)
		})

	var (
		failures []Failure
		failed   []ledger.InstallmentDraft
	)
	for _, r := range batch.Failed(results) {
		d := pending[r.Index]
		failed = append(failed, d)
		failures = append(failures, Failure{
			Position: positions[r.Index],
			Label:    d.Label(positions[r.Index]),
			Message:  Message(r.Err),
			Err:      r.Err,
		})
	}

	o.logger.Debug("installments submitted",
		zap.String("loan_id", id),
		zap.Int("accepted", len(batch.Succeeded(results))),
		zap.Int("failed", len(failed)),
	)

	o.commit(ctx, m)
	saved := o.refetchLoan(ctx, id, draft)

	// The retry resubmits the header as entered, never as read back
	retry := draft
	retry.ID = id
	retry.Installments = failed
	result := SaveResult{Loan: saved, Failures: failures, retry: retry}

	if len(failures) > 0 {
		result.KeepOpen = true
		perr := &PartialBatchError{Parent: "Loan", ParentID: id, Failures: failures}
		o.finish(m, Partial, perr)
		o.notifyError(m, perr)
		return result, perr
	}

	o.finish(m, Committed, nil)
	o.notifySuccess(m, "Loan saved.")
	if o.config.OnSaved != nil {
		o.config.OnSaved(saved)
	}
	return result, nil
}

// refetchLoan reads one loan back from the service, falling back to the
// snapshot and then to the submitted draft when the read fails.
func (o *Orchestrator) refetchLoan(ctx context.Context, id string, draft ledger.LoanDraft) ledger.Loan {
	snap := o.Snapshot()
	raw, err := o.backend.GetLoan(ctx, id)
	if err == nil {
		return ledger.Normalize(raw, ledger.NewMethodIndex(snap.Methods))
	}
	o.logger.Warn("refetch of saved loan failed", zap.String("loan_id", id), zap.Error(err))
	if l, ok := snap.Find(id); ok {
		return l
	}
	l := ledger.Loan{ID: id, Status: ledger.Active, Installments: []ledger.Installment{}}
	setHeader(&l, draft)
	l.RemainingAmount = ledger.RecomputeRemaining(l)
	return l
}

// applyDraft shows the draft header in the list: an update replaces the
// matching loan's header fields, a create prepends a provisional loan.
func applyDraft(loans []ledger.Loan, d ledger.LoanDraft) []ledger.Loan {
	if d.ID != "" {
		if _, i := ledger.Find(loans, d.ID); i >= 0 {
			l := loans[i].Clone()
			setHeader(&l, d)
			l.RemainingAmount = ledger.RecomputeRemaining(l)
			loans[i] = l
		}
		return loans
	}

	l := ledger.Loan{
		ID:           "tmp-" + uuid.NewString(),
		Status:       ledger.Active,
		Installments: []ledger.Installment{},
		CreatedAt:    time.Now().UTC(),
	}
	setHeader(&l, d)
	l.RemainingAmount = ledger.RecomputeRemaining(l)
	return append([]ledger.Loan{l}, loans...)
}

func setHeader(l *ledger.Loan, d ledger.LoanDraft) {
	l.Type = d.Type
	l.PersonName = d.PersonName
	l.OriginalAmount = d.OriginalAmount
	l.StartDate = d.StartDate
	l.DueDate = d.DueDate
	l.Notes = d.Notes
	l.InterestRate.Valid = d.InterestRate != nil
	if d.InterestRate != nil {
		l.InterestRate.Decimal = *d.InterestRate
	}
}
