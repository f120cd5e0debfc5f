package control

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// sendAll runs send for every id with at most limit in flight. The result holds
// one error per input position, nil for a successful send.
// Goroutines never return an error to the group so one failure cannot cancel the rest.
func sendAll(ctx context.Context, ids []string, limit int, send func(ctx context.Context, id string) error) []error {
	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			errs[i] = send(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
