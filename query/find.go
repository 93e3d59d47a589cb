package query

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// findConcurrency bounds parallel checks in FindAvailableAccounts.
const findConcurrency = 8

// Filter narrows FindAvailableAccounts. An empty AccountIDs checks every
// stored account.
type Filter struct {
	AccountIDs []string
}

// FindAvailableAccounts returns, in input order, the accounts available for
// the whole of [start, end].
func (e *Engine) FindAvailableAccounts(ctx context.Context, start, end time.Time, f Filter) ([]string, error) {
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}

	ids := f.AccountIDs
	if len(ids) == 0 {
		accounts, err := e.accounts.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		for _, acc := range accounts {
			ids = append(ids, acc.ID)
		}
	}

	ok := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(findConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := e.IsAvailable(gctx, id, start, end)
			if err != nil {
				return err
			}
			ok[i] = res.Available
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []string{}
	for i, id := range ids {
		if ok[i] {
			out = append(out, id)
		}
	}
	return out, nil
}
