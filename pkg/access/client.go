// Package access is the cache-aware gateway to the remote loan service.
//
// Reads are memoized in a cache.Store under keys derived from the effective
// arguments. Every write invalidates the "loans" tag once the remote call has
// resolved, whether it succeeded or not, so the next read always goes to the
// service.
package access

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"ledger-sync/pkg/cache"
	"ledger-sync/pkg/ledger"
	"ledger-sync/pkg/logging"
	"ledger-sync/pkg/memo"
	"ledger-sync/pkg/metrics"
	"ledger-sync/pkg/remote"

	"go.uber.org/zap"
)

// Cache tags and operation names.
const (
	LoansTag      = "loans"
	opLoansAll    = "loans_all"
	opLoansOne    = "loans_one"
	opPaymentMeth = "payment_methods"
)

// Config configures a Client.
type Config struct {
	// LoansTTL bounds how long loan reads are served from the cache
	LoansTTL time.Duration `yaml:"loans_ttl"`

	// MethodsTTL bounds how long the payment method list is cached
	MethodsTTL time.Duration `yaml:"methods_ttl"`

	Metrics metrics.MetricsCollector `yaml:"-"`
	Logger  *logging.Logger          `yaml:"-"`
}

// DefaultConfig returns the default TTLs.
func DefaultConfig() Config {
	return Config{
		LoansTTL:   5 * time.Minute,
		MethodsTTL: 30 * time.Minute,
	}
}

// Client exposes the loan resource operations.
type Client struct {
	doer   remote.Doer
	store  cache.Store
	logger *logging.Logger

	list    *memo.Memo[ListQuery, json.RawMessage]
	one     *memo.Memo[string, json.RawMessage]
	methods *memo.Memo[struct{}, json.RawMessage]
}

// New creates a Client calling doer and caching reads in store.
func New(doer remote.Doer, store cache.Store, config Config) *Client {
	defaults := DefaultConfig()
	if config.LoansTTL <= 0 {
		config.LoansTTL = defaults.LoansTTL
	}
	if config.MethodsTTL <= 0 {
		config.MethodsTTL = defaults.MethodsTTL
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	logger := config.Logger.Or()

	c := &Client{
		doer:   doer,
		store:  store,
		logger: logger.Named("access"),
	}

	c.list = memo.New(store, c.fetchLoans, loansKey, memo.Config{
		Op: opLoansAll, TTL: config.LoansTTL, Metrics: config.Metrics, Logger: logger,
	})
	c.one = memo.New(store, c.fetchLoan, loanKey, memo.Config{
		Op: opLoansOne, TTL: config.LoansTTL, Metrics: config.Metrics, Logger: logger,
	})
	c.methods = memo.New(store, c.fetchMethods, func(struct{}) string { return opPaymentMeth }, memo.Config{
		Op: opPaymentMeth, TTL: config.MethodsTTL, Metrics: config.Metrics, Logger: logger,
	})

	return c
}

func loansKey(q ListQuery) string {
	eff := q.Effective()
	return cache.DeriveKey(opLoansAll, eff.IncludeClosed, eff.Filter, eff.Range.StartDate, eff.Range.EndDate)
}

func loanKey(id string) string {
	return cache.DeriveKey(opLoansOne, id)
}

// ListLoansKey returns the cache key ListLoans uses for q.
func ListLoansKey(q ListQuery) string {
	return loansKey(q)
}

// ListLoans returns the raw loan records matching q.
func (c *Client) ListLoans(ctx context.Context, q ListQuery) ([]ledger.Payload, error) {
	body, err := c.list.Call(ctx, q.Effective())
	if err != nil {
		return nil, err
	}
	return decodeList(body, "loans")
}

// GetLoan returns the raw record of one loan.
func (c *Client) GetLoan(ctx context.Context, id string) (ledger.Payload, error) {
	body, err := c.one.Call(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeObject(body, "loan")
}

// ListPaymentMethods returns the payment method lookup table.
func (c *Client) ListPaymentMethods(ctx context.Context) ([]ledger.PaymentMethod, error) {
	body, err := c.methods.Call(ctx, struct{}{})
	if err != nil {
		return nil, err
	}
	raws, err := decodeList(body, "paymentMethods")
	if err != nil {
		return nil, err
	}
	return ledger.NormalizeMethods(raws), nil
}

// CreateLoan creates the loan header described by draft. Installments in the
// draft are not sent.
func (c *Client) CreateLoan(ctx context.Context, draft ledger.LoanDraft) (ledger.Payload, error) {
	body, err := c.write(ctx, remote.Request{
		Method: http.MethodPost,
		Path:   "loans",
		Route:  "loans",
		Body:   draft,
	})
	if err != nil {
		return nil, err
	}
	return decodeObject(body, "loan")
}

// UpdateLoan sends a partial update of loan id.
func (c *Client) UpdateLoan(ctx context.Context, id string, patch interface{}) (ledger.Payload, error) {
	body, err := c.write(ctx, remote.Request{
		Method: http.MethodPut,
		Path:   "loans/" + url.PathEscape(id),
		Route:  "loans/{id}",
		Body:   patch,
	})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return decodeObject(body, "loan")
}

// CloseLoan marks loan id as CLOSED.
func (c *Client) CloseLoan(ctx context.Context, id string) (ledger.Payload, error) {
	return c.UpdateLoan(ctx, id, map[string]string{"status": string(ledger.Closed)})
}

// DeleteLoan removes loan id.
func (c *Client) DeleteLoan(ctx context.Context, id string) error {
	_, err := c.write(ctx, remote.Request{
		Method: http.MethodDelete,
		Path:   "loans/" + url.PathEscape(id),
		Route:  "loans/{id}",
	})
	return err
}

// AddInstallment records a payment against loan loanID.
func (c *Client) AddInstallment(ctx context.Context, loanID string, draft ledger.InstallmentDraft) (ledger.Payload, error) {
	body, err := c.write(ctx, remote.Request{
		Method: http.MethodPost,
		Path:   "loans/" + url.PathEscape(loanID) + "/installments",
		Route:  "loans/{id}/installments",
		Body:   draft,
	})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return decodeObject(body, "installment")
}

// DeleteInstallment removes one installment of loan loanID.
func (c *Client) DeleteInstallment(ctx context.Context, loanID, installmentID string) error {
	_, err := c.write(ctx, remote.Request{
		Method: http.MethodDelete,
		Path:   "loans/" + url.PathEscape(loanID) + "/installments/" + url.PathEscape(installmentID),
		Route:  "loans/{id}/installments/{installmentId}",
	})
	return err
}

// Invalidate drops every cached loan read.
func (c *Client) Invalidate(ctx context.Context) {
	removed, err := c.store.Invalidate(ctx, LoansTag)
	if err != nil {
		c.logger.Warn("cache invalidation failed",
			zap.String("tag", LoansTag),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("cache invalidated", zap.String("tag", LoansTag), zap.Int("removed", removed))
}

// write performs a mutating request and invalidates the loans tag once it
// resolves. The remote error is returned unchanged.
func (c *Client) write(ctx context.Context, req remote.Request) (json.RawMessage, error) {
	defer c.Invalidate(context.WithoutCancel(ctx))
	return c.doer.Do(ctx, req)
}

func (c *Client) fetchLoans(ctx context.Context, q ListQuery) (json.RawMessage, error) {
	body, err := c.doer.Do(ctx, remote.Request{
		Method: http.MethodGet,
		Path:   "loans",
		Route:  "loans",
		Query:  q.Values(),
	})
	if err != nil {
		return nil, err
	}
	// Validate before caching so a malformed body is never served again.
	if _, err := decodeList(body, "loans"); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) fetchLoan(ctx context.Context, id string) (json.RawMessage, error) {
	body, err := c.doer.Do(ctx, remote.Request{
		Method: http.MethodGet,
		Path:   "loans/" + url.PathEscape(id),
		Route:  "loans/{id}",
	})
	if err != nil {
		return nil, err
	}
	if _, err := decodeObject(body, "loan"); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) fetchMethods(ctx context.Context, _ struct{}) (json.RawMessage, error) {
	body, err := c.doer.Do(ctx, remote.Request{
		Method: http.MethodGet,
		Path:   "payment-methods",
		Route:  "payment-methods",
	})
	if err != nil {
		return nil, err
	}
	if _, err := decodeList(body, "paymentMethods"); err != nil {
		return nil, err
	}
	return body, nil
}
