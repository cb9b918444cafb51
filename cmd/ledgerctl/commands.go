package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ledger-sync/pkg/access"
	"ledger-sync/pkg/api"
	"ledger-sync/pkg/ledger"
	"ledger-sync/pkg/mutation"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

var (
	errMissingArgs = errors.New("missing arguments")
	errUnknownLoan = errors.New("no such loan in the current list")
	// errReported marks a failure the notifier has already printed
	errReported = errors.New("mutation failed")
)

// withEnv wires an env for the duration of one command.
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.Close()
		return fn(c, e)
	}
}

func args(c *cli.Context, n int) ([]string, error) {
	if c.NArg() < n {
		return nil, fmt.Errorf("%w: %s %s", errMissingArgs, c.Command.Name, c.Command.ArgsUsage)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = strings.TrimSpace(c.Args().Get(i))
	}
	return out, nil
}

var runList = withEnv(func(c *cli.Context, e *env) error {
	ctx := context.Background()

	q := e.orch.Snapshot().Query
	if c.IsSet("closed") {
		q.IncludeClosed = c.Bool("closed")
	}
	if c.IsSet("filter") {
		q.Filter = c.String("filter")
	}
	if c.IsSet("from") || c.IsSet("to") {
		q.Range = access.Range{StartDate: c.String("from"), EndDate: c.String("to")}
	}

	if err := e.orch.SetQuery(ctx, q); err != nil {
		return errors.New(mutation.Message(err))
	}
	if c.Bool("save") {
		if err := e.prefs.SaveQuery(q); err != nil {
			return err
		}
	}

	snap := e.orch.Snapshot()
	printLoans(e.w, snap.Loans)
	printSummary(e.w, ledger.Summarize(snap.Loans))
	return nil
})

var runShow = withEnv(func(c *cli.Context, e *env) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	ctx := context.Background()

	methods, err := e.client.ListPaymentMethods(ctx)
	if err != nil {
		return errors.New(mutation.Message(err))
	}
	raw, err := e.client.GetLoan(ctx, a[0])
	if err != nil {
		return errors.New(mutation.Message(err))
	}

	printLoan(e.w, ledger.Normalize(raw, ledger.NewMethodIndex(methods)))
	return nil
})

// loaded refreshes the snapshot so mutations see the current loans.
func loaded(ctx context.Context, e *env) error {
	if err := e.orch.Refresh(ctx); err != nil {
		return errors.New(mutation.Message(err))
	}
	return nil
}

// mutationError reports a mutation failure without repeating the message the
// notifier already printed.
func mutationError(err error) error {
	if err == nil {
		return nil
	}
	return errReported
}

var runClose = withEnv(func(c *cli.Context, e *env) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := loaded(ctx, e); err != nil {
		return err
	}
	return mutationError(e.orch.CloseLoan(ctx, a[0]))
})

var runDelete = withEnv(func(c *cli.Context, e *env) error {
	a, err := args(c, 1)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := loaded(ctx, e); err != nil {
		return err
	}
	return mutationError(e.orch.DeleteLoan(ctx, a[0]))
})

var runPay = withEnv(func(c *cli.Context, e *env) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(a[1])
	if err != nil {
		return fmt.Errorf("invalid amount %q", a[1])
	}
	date := ledger.DateOf(time.Now())
	if v := c.String("date"); v != "" {
		date = ledger.ParseDate(v)
		if date.IsZero() {
			return fmt.Errorf("invalid date %q", v)
		}
	}

	ctx := context.Background()
	if err := loaded(ctx, e); err != nil {
		return err
	}
	loan, ok := e.orch.Snapshot().Find(a[0])
	if !ok {
		return errUnknownLoan
	}

	draft := loan.Draft()
	draft.Installments = append(draft.Installments, ledger.InstallmentDraft{
		AmountPaid:      amount,
		PaymentDate:     date,
		PaymentMethodID: c.String("method"),
		Notes:           c.String("notes"),
	})

	res, err := e.orch.SaveLoan(ctx, draft)
	if err != nil {
		return mutationError(err)
	}
	fmt.Fprintf(e.w, "remaining: %s\n", res.Loan.RemainingAmount.StringFixed(2))
	return nil
})

var runUnpay = withEnv(func(c *cli.Context, e *env) error {
	a, err := args(c, 2)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := loaded(ctx, e); err != nil {
		return err
	}
	return mutationError(e.orch.DeleteInstallment(ctx, a[0], a[1]))
})

var runMethods = withEnv(func(c *cli.Context, e *env) error {
	methods, err := e.client.ListPaymentMethods(context.Background())
	if err != nil {
		return errors.New(mutation.Message(err))
	}
	printMethods(e.w, methods)
	return nil
})

var runServe = withEnv(func(c *cli.Context, e *env) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.orch.Refresh(ctx); err != nil {
		e.logger.Warn("initial refresh failed", zap.Error(err))
	}

	config := api.DefaultServerConfig()
	config.Address = e.cfg.Server.Addr
	if v := c.String("addr"); v != "" {
		config.Address = v
	}
	config.Gatherer = e.registry
	config.Logger = e.logger

	server := api.NewServer(e.store, e.orch, e.metrics, config)
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Stop(shutdown)
})
