package txn

import (
	"context"
	"fmt"
)

// ProcessBatches splits items into consecutive chunks of at most size and
// calls fn once per chunk, in order. A chunk starts only after the previous
// call returned; the first error stops processing. A size below 1 processes
// everything as one chunk.
func ProcessBatches[T any](ctx context.Context, items []T, size int, fn func(ctx context.Context, batch []T) error) error {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = len(items)
	}
	for start, n := 0, 0; start < len(items); start, n = start+size, n+1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(items))
		if err := fn(ctx, items[start:end]); err != nil {
			return fmt.Errorf("batch %d: %w", n, err)
		}
	}
	return nil
}
