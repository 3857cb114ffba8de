package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

const DefaultMaxCommitAttempts = 3

// RetryCoordinator commits units of work, absorbing version conflicts up to a
// fixed number of attempts. It is the only place store writes are retried.
type RetryCoordinator struct {
	maxAttempts int
	logger      *zap.Logger
}

type CoordinatorOption func(*RetryCoordinator)

// ConflictCheck inspects a conflicting record's latest stored value before
// its baseline is reset. A non-nil error ends the commit with that error.
type ConflictCheck func(entry port.ConflictEntry) error

// WithMaxAttempts overrides the total number of commit attempts.
func WithMaxAttempts(n int) CoordinatorOption {
	return func(c *RetryCoordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func NewRetryCoordinator(logger *zap.Logger, opts ...CoordinatorOption) *RetryCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &RetryCoordinator{
		maxAttempts: DefaultMaxCommitAttempts,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Commit runs uow.Commit. On a version conflict every conflicting record's
// baseline is moved to its latest stored version and the commit is tried
// again; the staged values themselves are kept. A record deleted by another
// writer, or one rejected by any of checks, ends the attempt immediately.
func (c *RetryCoordinator) Commit(ctx context.Context, uow port.UnitOfWork, checks ...ConflictCheck) (int, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		n, err := uow.Commit(ctx)
		if err == nil {
			return n, nil
		}

		var conflict *port.ConflictError
		var rejected *port.PersistenceError
		switch {
		case errors.As(err, &conflict):
			c.logger.Warn("concurrency conflict detected",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.maxAttempts),
				zap.Int("records", len(conflict.Entries)),
			)
			for _, entry := range conflict.Entries {
				if entry.Deleted() {
					c.logger.Warn("record no longer exists",
						zap.String("kind", string(entry.Kind)),
						zap.Int64("id", entry.ID),
					)
					return 0, &domain.Error{
						Kind:    domain.ErrConflict,
						Message: "record deleted by another writer",
						Err:     err,
					}
				}
				for _, check := range checks {
					if err := check(entry); err != nil {
						c.logger.Warn("conflicting record rejected",
							zap.String("kind", string(entry.Kind)),
							zap.Int64("id", entry.ID),
							zap.Error(err),
						)
						return 0, err
					}
				}
			}
			for _, entry := range conflict.Entries {
				uow.ResetBaseline(entry)
			}
		case errors.As(err, &rejected):
			c.logger.Error("store rejected changes", zap.Error(err))
			return 0, &domain.Error{
				Kind:    domain.ErrBadRequest,
				Message: "an error occurred while updating the store, please check your input",
				Err:     err,
			}
		default:
			c.logger.Error("unexpected error while committing changes", zap.Error(err))
			return 0, domain.Internal(err)
		}
	}

	c.logger.Error("max retry attempts reached for concurrency conflict",
		zap.Int("max_attempts", c.maxAttempts))
	return 0, domain.Conflictf("max retries exceeded")
}
