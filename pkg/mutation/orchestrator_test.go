package mutation_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ledger-sync/pkg/access"
	"ledger-sync/pkg/cache/memory"
	"ledger-sync/pkg/ledger"
	metricsmem "ledger-sync/pkg/metrics/memory"
	"ledger-sync/pkg/mutation"
	"ledger-sync/pkg/remote"
	"ledger-sync/pkg/remote/remotetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	notes []mutation.Notification
}

func (r *recorder) Notify(n mutation.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) last() mutation.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notes) == 0 {
		return mutation.Notification{}
	}
	return r.notes[len(r.notes)-1]
}

type fixture struct {
	svc     *remotetest.Service
	orch    *mutation.Orchestrator
	notes   *recorder
	metrics *metricsmem.MemoryCollector
	saved   []ledger.Loan
}

type fixtureOption func(doer remote.Doer) remote.Doer

func newFixture(t *testing.T, wrap fixtureOption, opts ...remotetest.Option) *fixture {
	t.Helper()

	svc := remotetest.NewService(opts...)
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	httpClient, err := remote.NewHTTPClient(remote.HTTPConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	var doer remote.Doer = httpClient
	if wrap != nil {
		doer = wrap(doer)
	}

	store := memory.NewMemoryCache(memory.MemoryCacheConfig{Name: "test"})
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		svc:     svc,
		notes:   &recorder{},
		metrics: metricsmem.NewMemoryCollector(),
	}
	f.orch = mutation.New(access.New(doer, store, access.DefaultConfig()), mutation.Config{
		Query:      access.ListQuery{IncludeClosed: true},
		BatchLimit: 2,
		Notifier:   f.notes,
		Metrics:    f.metrics,
		OnSaved:    func(l ledger.Loan) { f.saved = append(f.saved, l) },
	})
	return f
}

func (f *fixture) seed(name, amount string, installments ...string) string {
	p := ledger.Payload{
		"type":           "GIVEN",
		"personName":     name,
		"originalAmount": amount,
		"startDate":      "2024-05-01",
	}
	var list []interface{}
	for _, a := range installments {
		list = append(list, map[string]interface{}{"amountPaid": a, "paymentDate": "2024-05-10"})
	}
	if list != nil {
		p["installments"] = list
	}
	return f.svc.Seed(p)
}

func (f *fixture) loan(t *testing.T, id string) ledger.Loan {
	t.Helper()
	l, ok := f.orch.Snapshot().Find(id)
	require.True(t, ok, "loan %s not in snapshot", id)
	return l
}

func failWrites(doer remote.Doer) remote.Doer {
	return remote.DoerFunc(func(ctx context.Context, req remote.Request) (json.RawMessage, error) {
		if req.Method == http.MethodGet {
			return doer.Do(ctx, req)
		}
		return nil, &remote.TransportError{
			Method: req.Method,
			URL:    "http://10.1.2.3:8080/" + req.Path,
			Err:    errors.New("connection reset by peer"),
		}
	})
}

func TestRefresh_NormalizesMixedPayloads(t *testing.T) {
	f := newFixture(t, nil, remotetest.WithStyle(remotetest.Mixed))
	id := f.seed("Ana", "1000", "100", "200")
	f.seed("Bruno", "50")

	require.NoError(t, f.orch.Refresh(context.Background()))

	snap := f.orch.Snapshot()
	assert.Len(t, snap.Loans, 2)
	assert.Len(t, snap.Methods, 2)
	assert.False(t, snap.Tentative)

	l := f.loan(t, id)
	assert.Len(t, l.Installments, 2)
	assert.True(t, decimal.NewFromInt(700).Equal(l.RemainingAmount), "got %s", l.RemainingAmount)
	for _, in := range l.Installments {
		assert.Equal(t, id, in.LoanID)
		assert.Equal(t, ledger.DefaultPaymentMethodName, in.PaymentMethodName)
	}
}

func TestRefresh_ErrorKeepsSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.seed("Ana", "100")
	require.NoError(t, f.orch.Refresh(context.Background()))
	before := f.orch.Snapshot()

	f.svc.SetInterceptor(func(r *http.Request, _ ledger.Payload) *remotetest.Response {
		return &remotetest.Response{Status: http.StatusBadGateway, Body: []byte("bad gateway")}
	})
	// The list is cached; a new query forces a fetch.
	err := f.orch.SetQuery(context.Background(), access.ListQuery{Filter: "lastweek"})
	require.Error(t, err)
	assert.Same(t, before, f.orch.Snapshot())
}

func TestDeleteLoan_WithInstallmentsRejectedLocally(t *testing.T) {
	f := newFixture(t, nil)
	id := f.seed("Ana", "1000", "100")
	require.NoError(t, f.orch.Refresh(context.Background()))
	before := f.orch.Snapshot()
	f.svc.ResetRequests()

	err := f.orch.DeleteLoan(context.Background(), id)

	var local *mutation.LocalValidationError
	require.ErrorAs(t, err, &local)
	assert.Equal(t, 0, len(f.svc.Requests()), "no request should reach the service")
	assert.Same(t, before, f.orch.Snapshot())
	assert.Equal(t, mutation.LevelError, f.notes.last().Level)
	assert.Contains(t, f.notes.last().Message, "installments")

	m, ok := f.orch.Last()
	require.True(t, ok)
	assert.Equal(t, mutation.Idle, m.State)
}

func TestDeleteLoan_UnknownRejectedLocally(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Refresh(context.Background()))

	err := f.orch.DeleteLoan(context.Background(), "missing")

	var local *mutation.LocalValidationError
	assert.ErrorAs(t, err, &local)
	assert.Equal(t, 0, f.svc.CountRequests(http.MethodDelete, "/loans"))
}

func TestDeleteLoan_Commits(t *testing.T) {
	f := newFixture(t, nil)
	id := f.seed("Ana", "100")
	f.seed("Bruno", "50")
	require.NoError(t, f.orch.Refresh(context.Background()))

	require.NoError(t, f.orch.DeleteLoan(context.Background(), id))

	_, found := f.orch.Snapshot().Find(id)
	assert.False(t, found)
	assert.Len(t, f.orch.Snapshot().Loans, 1)
	assert.Equal(t, 1, f.svc.LoanCount())
	assert.Equal(t, mutation.LevelSuccess, f.notes.last().Level)
	assert.Equal(t, int64(1), f.metrics.MutationCount("delete_loan", "committed"))
}

func TestDeleteLoan_TransportFailureRestoresSnapshot(t *testing.T) {
	f := newFixture(t, failWrites)
	id := f.seed("Ana", "100")
	require.NoError(t, f.orch.Refresh(context.Background()))
	before := f.orch.Snapshot()

	err := f.orch.DeleteLoan(context.Background(), id)

	var transport *remote.TransportError
	require.ErrorAs(t, err, &transport)
	assert.Same(t, before, f.orch.Snapshot(), "rollback must restore the exact prior snapshot")
	assert.Equal(t, mutation.GenericMessage, f.notes.last().Message)
	assert.NotContains(t, f.notes.last().Message, "10.1.2.3")

	m, _ := f.orch.Last()
	assert.Equal(t, mutation.RolledBack, m.State)
	assert.Equal(t, "rolled_back", m.StateName)
}

func TestCloseLoan_PinsRemainingToZero(t *testing.T) {
	f := newFixture(t, nil)
	id := f.seed("Ana", "1000", "100")
	require.NoError(t, f.orch.Refresh(context.Background()))

	var (
		mu        sync.Mutex
		tentative ledger.Loan
	)
	f.svc.SetInterceptor(func(r *http.Request, _ ledger.Payload) *remotetest.Response {
		if r.Method == http.MethodPut {
			mu.Lock()
			tentative, _ = f.orch.Snapshot().Find(id)
			mu.Unlock()
		}
		return nil
	})

	require.NoError(t, f.orch.CloseLoan(context.Background(), id))
	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, ledger.Closed, tentative.Status, "close should be visible before the server answers")
	assert.True(t, tentative.RemainingAmount.IsZero())

	l := f.loan(t, id)
	assert.Equal(t, ledger.Closed, l.Status)
	assert.True(t, l.RemainingAmount.IsZero())
	assert.False(t, f.orch.Snapshot().Tentative)
}

func TestCloseLoan_AlreadyClosedIsNoOp(t *testing.T) {
	f := newFixture(t, nil)
	id := f.svc.Seed(ledger.Payload{
		"type": "TAKEN", "personName": "Ana", "originalAmount": "10",
		"startDate": "2024-05-01", "status": "CLOSED",
	})
	require.NoError(t, f.orch.Refresh(context.Background()))
	f.svc.ResetRequests()

	require.NoError(t, f.orch.CloseLoan(context.Background(), id))
	assert.Empty(t, f.svc.Requests())
}

func TestCloseLoan_RejectedRestoresSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	id := f.seed("Ana", "1000", "100")
	require.NoError(t, f.orch.Refresh(context.Background()))
	before := f.orch.Snapshot()

	f.svc.SetInterceptor(func(r *http.Request, _ ledger.Payload) *remotetest.Response {
		if r.Method == http.MethodPut {
			return &remotetest.Response{
				Status: http.StatusConflict,
				Body:   map[string]string{"message": "Loan is already being settled"},
			}
		}
		return nil
	})

	err := f.orch.CloseLoan(context.Background(), id)

	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Same(t, before, f.orch.Snapshot())
	l := f.loan(t, id)
	assert.Equal(t, ledger.Active, l.Status)
	assert.True(t, decimal.NewFromInt(900).Equal(l.RemainingAmount))
	assert.Equal(t, "Loan is already being settled", f.notes.last().Message)
}

func TestDeleteInstallment_RecomputesRemaining(t *testing.T) {
	f := newFixture(t, nil)
	id := f.seed("Ana", "1000", "100", "300")
	require.NoError(t, f.orch.Refresh(context.Background()))

	target := f.loan(t, id).Installments[0]
	require.NoError(t, f.orch.DeleteInstallment(context.Background(), id, target.ID))

	l := f.loan(t, id)
	require.Len(t, l.Installments, 1)
	assert.NotEqual(t, target.ID, l.Installments[0].ID)
	assert.True(t, decimal.NewFromInt(1000).Sub(l.Installments[0].AmountPaid).Equal(l.RemainingAmount))
}

func TestDeleteInstallment_FailureRestoresSnapshot(t *testing.T) {
	f := newFixture(t, failWrites)
	id := f.seed("Ana", "1000", "100")
	require.NoError(t, f.orch.Refresh(context.Background()))
	before := f.orch.Snapshot()

	err := f.orch.DeleteInstallment(context.Background(), id, f.loan(t, id).Installments[0].ID)
	require.Error(t, err)
	assert.Same(t, before, f.orch.Snapshot())
}

func draftWith(amounts ...string) ledger.LoanDraft {
	d := ledger.LoanDraft{
		Type:           ledger.Given,
		PersonName:     "Carla",
		OriginalAmount: decimal.NewFromInt(1000),
		StartDate:      "2024-05-01",
	}
	for _, a := range amounts {
		d.Installments = append(d.Installments, ledger.InstallmentDraft{
			AmountPaid:  decimal.RequireFromString(a),
			PaymentDate: "2024-05-15",
		})
	}
	return d
}

func TestSaveLoan_CreateWithInstallments(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Refresh(context.Background()))

	res, err := f.orch.SaveLoan(context.Background(), draftWith("100", "250", "50"))
	require.NoError(t, err)

	assert.False(t, res.KeepOpen)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Loan.Installments, 3)
	assert.True(t, decimal.NewFromInt(600).Equal(res.Loan.RemainingAmount))
	assert.Equal(t, 1, f.svc.LoanCount())

	require.Len(t, f.saved, 1)
	assert.Equal(t, res.Loan.ID, f.saved[0].ID)
	for _, l := range f.orch.Snapshot().Loans {
		assert.False(t, strings.HasPrefix(l.ID, "tmp-"), "provisional loan left in snapshot")
	}
}

func TestSaveLoan_PartialBatch(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Refresh(context.Background()))

	rejected := decimal.NewFromInt(250)
	f.svc.SetInterceptor(func(r *http.Request, body ledger.Payload) *remotetest.Response {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/installments") {
			return nil
		}
		if amount, ok := body.Decimal("amountPaid"); ok && amount.Equal(rejected) {
			return &remotetest.Response{
				Status: http.StatusUnprocessableEntity,
				Body:   map[string]string{"message": "Payment date is in a closed period"},
			}
		}
		return nil
	})

	res, err := f.orch.SaveLoan(context.Background(), draftWith("100", "250", "50"))

	var partial *mutation.PartialBatchError
	require.ErrorAs(t, err, &partial)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 2, res.Failures[0].Position)
	assert.Equal(t, "Installment #2 (250.00): Payment date is in a closed period", res.Failures[0].String())
	assert.True(t, res.KeepOpen)

	// Header and accepted installments are kept.
	assert.Equal(t, 1, f.svc.LoanCount())
	assert.Len(t, res.Loan.Installments, 2)
	assert.True(t, decimal.NewFromInt(850).Equal(res.Loan.RemainingAmount))
	l := f.loan(t, res.Loan.ID)
	assert.Len(t, l.Installments, 2)

	assert.Empty(t, f.saved, "OnSaved fires only on full success")
	m, _ := f.orch.Last()
	assert.Equal(t, mutation.Partial, m.State)
	assert.Contains(t, f.notes.last().Message, "Installment #2 (250.00)")

	retry := res.RetryDraft()
	assert.Equal(t, res.Loan.ID, retry.ID)
	require.Len(t, retry.Installments, 1)
	assert.True(t, rejected.Equal(retry.Installments[0].AmountPaid))

	// Retrying the failed item completes the save without touching the header.
	f.svc.SetInterceptor(nil)
	f.svc.ResetRequests()
	res, err = f.orch.SaveLoan(context.Background(), retry)
	require.NoError(t, err)
	assert.Len(t, res.Loan.Installments, 3)
	assert.Equal(t, 1, f.svc.CountRequests(http.MethodPost, "/loans/"))
	assert.Equal(t, 1, f.svc.LoanCount())
}

func TestSaveLoan_RetryDraftKeepsHeaderWhenReadBackFails(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Refresh(context.Background()))

	rejected := decimal.NewFromInt(250)
	f.svc.SetInterceptor(func(r *http.Request, body ledger.Payload) *remotetest.Response {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/loans") {
			return &remotetest.Response{Status: http.StatusServiceUnavailable, Body: []byte("unavailable")}
		}
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/installments") {
			return nil
		}
		if amount, ok := body.Decimal("amountPaid"); ok && amount.Equal(rejected) {
			return &remotetest.Response{
				Status: http.StatusUnprocessableEntity,
				Body:   map[string]string{"message": "Payment date is in a closed period"},
			}
		}
		return nil
	})

	draft := draftWith("100", "250", "50")
	res, err := f.orch.SaveLoan(context.Background(), draft)

	var partial *mutation.PartialBatchError
	require.ErrorAs(t, err, &partial)
	require.NotEmpty(t, res.Loan.ID)
	assert.Equal(t, "Carla", res.Loan.PersonName)

	retry := res.RetryDraft()
	assert.Equal(t, res.Loan.ID, retry.ID)
	assert.Equal(t, draft.Type, retry.Type)
	assert.Equal(t, draft.PersonName, retry.PersonName)
	assert.True(t, draft.OriginalAmount.Equal(retry.OriginalAmount))
	assert.Equal(t, draft.StartDate, retry.StartDate)
	require.Len(t, retry.Installments, 1)
	assert.True(t, rejected.Equal(retry.Installments[0].AmountPaid))

	f.svc.SetInterceptor(nil)
	res, err = f.orch.SaveLoan(context.Background(), retry)
	require.NoError(t, err)
	assert.Equal(t, "Carla", res.Loan.PersonName)
	assert.True(t, decimal.NewFromInt(1000).Equal(res.Loan.OriginalAmount))
	assert.Len(t, res.Loan.Installments, 3)
	assert.True(t, decimal.NewFromInt(600).Equal(res.Loan.RemainingAmount))
	assert.Equal(t, 1, f.svc.LoanCount())
}

func TestSaveLoan_HeaderValidationRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Refresh(context.Background()))
	before := f.orch.Snapshot()

	d := draftWith("100")
	d.PersonName = ""
	d.OriginalAmount = decimal.Zero

	_, err := f.orch.SaveLoan(context.Background(), d)

	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Same(t, before, f.orch.Snapshot())
	assert.Equal(t, "Person name is required", f.notes.last().Message)
	assert.Equal(t, "Amount must be greater than zero", f.notes.last().Fields["originalAmount"])
	assert.Equal(t, 0, f.svc.CountRequests(http.MethodPost, "/loans/"), "no installment call after a failed header")
}

func TestSaveLoan_UpdateKeepsExistingInstallments(t *testing.T) {
	f := newFixture(t, nil)
	id := f.seed("Ana", "1000", "100")
	require.NoError(t, f.orch.Refresh(context.Background()))

	d := f.loan(t, id).Draft()
	d.Notes = "renegotiated"
	d.Installments = append(d.Installments, ledger.InstallmentDraft{
		AmountPaid:  decimal.NewFromInt(50),
		PaymentDate: "2024-06-01",
	})
	f.svc.ResetRequests()

	res, err := f.orch.SaveLoan(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, "renegotiated", res.Loan.Notes)
	assert.Len(t, res.Loan.Installments, 2)
	assert.Equal(t, 1, f.svc.CountRequests(http.MethodPut, "/loans/"))
	assert.Equal(t, 1, f.svc.CountRequests(http.MethodPost, "/loans/"+id+"/installments"))
}

func TestSaveLoan_TentativeLoanVisibleDuringCreate(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Refresh(context.Background()))

	var (
		mu   sync.Mutex
		seen []ledger.Loan
	)
	f.svc.SetInterceptor(func(r *http.Request, _ ledger.Payload) *remotetest.Response {
		if r.Method == http.MethodPost && r.URL.Path == "/loans" {
			mu.Lock()
			seen = f.orch.Snapshot().Loans
			mu.Unlock()
		}
		return nil
	})

	_, err := f.orch.SaveLoan(context.Background(), draftWith())
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()

	require.Len(t, seen, 1)
	assert.True(t, strings.HasPrefix(seen[0].ID, "tmp-"))
	assert.Equal(t, "Carla", seen[0].PersonName)
}

func TestMutations_Serialized(t *testing.T) {
	f := newFixture(t, nil)
	ids := []string{f.seed("A", "10"), f.seed("B", "20"), f.seed("C", "30")}
	require.NoError(t, f.orch.Refresh(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, f.orch.CloseLoan(ctx, id))
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ledger.Closed, f.loan(t, id).Status)
	}
}
