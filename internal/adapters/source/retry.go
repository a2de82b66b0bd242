package source

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

// Default retry configuration constants.
const (
	defaultAttempts = 3
	defaultDelay    = 2 * time.Second
)

// Option applies a configuration option to Retrying.
type Option func(*Retrying)

// WithAttempts sets the maximum number of attempts, including the first.
func WithAttempts(n int) Option {
	return func(r *Retrying) {
		if n > 0 {
			r.attempts = uint(n)
		}
	}
}

// WithDelay sets the fixed delay between attempts.
func WithDelay(d time.Duration) Option {
	return func(r *Retrying) {
		if d >= 0 {
			r.delay = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Retrying) {
		if l != nil {
			r.logger = l
		}
	}
}

// Retrying retries a Source on model.ErrConnection with a constant delay.
// Any other error is returned after the first attempt.
type Retrying struct {
	next     Source
	attempts uint
	delay    time.Duration
	logger   logger.Logger
}

// NewRetrying wraps next.
func NewRetrying(next Source, opts ...Option) *Retrying {
	r := &Retrying{
		next:     next,
		attempts: defaultAttempts,
		delay:    defaultDelay,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch runs the query, retrying transient connection failures.
func (r *Retrying) Fetch(ctx context.Context, database, query string, params ...any) (model.Table, error) {
	attempt := 0
	op := func() (model.Table, error) {
		attempt++
		t, err := r.next.Fetch(ctx, database, query, params...)
		if err == nil {
			metrics.RecordFetchAttempt(database, "ok")
			return t, nil
		}
		if !errors.Is(err, model.ErrConnection) || ctx.Err() != nil {
			metrics.RecordFetchAttempt(database, "fatal")
			return model.Table{}, backoff.Permanent(err)
		}
		metrics.RecordFetchAttempt(database, "retryable")
		if uint(attempt) < r.attempts {
			metrics.RecordFetchRetry(database)
			r.logger.Warn(ctx, "fetch failed, retrying",
				logger.String("database", database),
				logger.Int("attempt", attempt),
				logger.Int("max_attempts", int(r.attempts)),
				logger.Duration("delay", r.delay),
				logger.Error(err),
			)
		}
		return model.Table{}, err
	}

	t, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.delay)),
		backoff.WithMaxTries(r.attempts),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		return model.Table{}, err
	}
	return t, nil
}
