package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/notes-search/pkg/errors"
)

// WithTimeout runs fn with a context cancelled after timeout. fn must honour
// its context: WithTimeout waits for fn to return so that no write is still
// in flight when the caller decides to roll back.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(timeoutCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && timeoutCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s: %w (limit: %v): %w", name, apperrors.ErrTimeout, timeout, err)
	}
	return err
}
