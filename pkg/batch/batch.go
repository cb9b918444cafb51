// Package batch runs independent sub-operations concurrently and reports
// each outcome individually.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one item.
type Result[R any] struct {
	// Index is the item's position in the input
	Index int
	Value R
	Err   error
}

// OK reports whether the item succeeded.
func (r Result[R]) OK() bool {
	return r.Err == nil
}

// Func runs one item.
type Func[T any, R any] func(ctx context.Context, index int, item T) (R, error)

// Run calls fn for every item with at most limit calls in flight (limit <= 0
// means unbounded). One failure never cancels the others. Results are
// returned in input order. Items not started before ctx is done fail with
// ctx.Err().
func Run[T any, R any](ctx context.Context, items []T, limit int, fn Func[T, R]) []Result[R] {
	results := make([]Result[R], len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		g.Go(func() error {
			results[i].Index = i
			select {
			case <-ctx.Done():
				results[i].Err = ctx.Err()
				return nil
			default:
			}
			results[i].Value, results[i].Err = fn(ctx, i, item)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// Failed returns the failed results in input order.
func Failed[R any](results []Result[R]) []Result[R] {
	var out []Result[R]
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Succeeded returns the values of successful results in input order.
func Succeeded[R any](results []Result[R]) []R {
	var out []R
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Value)
		}
	}
	return out
}
