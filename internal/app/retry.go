package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/cadenza/internal/adapters/repository"
	"github.com/okian/cadenza/pkg/metrics"
)

// retryOnConflict runs attempt until it stops failing with a version
// conflict. Each attempt must re-read what it writes.
func retryOnConflict(ctx context.Context, maxRetries int, document string, attempt func() error) error {
	var err error
	for i := 0; i <= maxRetries; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = attempt()
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
		metrics.RecordAggregateConflict(document)
	}
	return fmt.Errorf("%w after %d retries: %w", ErrConflict, maxRetries, err)
}

// storeKind classifies a store error for callers.
func storeKind(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, errNoClasses):
		return ErrNotFound
	case errors.Is(err, repository.ErrInvalidQuery):
		return ErrBadRequest
	default:
		return ErrUnexpected
	}
}
