package host

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ProveBatch proves every input with at most parallelism concurrent jobs.
// Receipts are returned in input order; the first failure cancels the remaining jobs.
func ProveBatch(ctx context.Context, p Prover, inputs [][]byte, parallelism int) ([]*Receipt, error) {
	if parallelism <= 0 {
		parallelism = 1
	}
	receipts := make([]*Receipt, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			r, err := p.Prove(ctx, in)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			receipts[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return receipts, nil
}
