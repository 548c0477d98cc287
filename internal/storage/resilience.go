package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

// CircuitBreaker guards backend calls that a caller runs through Do. It
// trips after five consecutive failures and half-opens after 30s. The
// SQLite and Postgres backends each construct one, but their own save and
// load paths do not call Do; internal/faultinjection exercises it end to
// end against a real backend.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker named after the backend it guards
// (used only in metrics/log labeling).
func NewCircuitBreaker(name string) *CircuitBreaker {
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})}
}

// Do runs fn through the breaker, translating the circuit-open case into
// a DatabaseError so callers don't need to know about gobreaker.
func (c *CircuitBreaker) Do(fn func() (any, error)) (any, error) {
	result, err := c.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &DatabaseError{Op: "circuit_breaker", Err: err}
		}
		return nil, err
	}
	return result, nil
}

// retryBeginTx retries transaction acquisition on SQLITE_BUSY /
// serialization-failure conditions only. Application-level insert
// failures (constraint violations, optimistic concurrency conflicts)
// are never retried blindly. At most 5 attempts with exponential
// backoff.
func retryBeginTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, isRetryable func(error) bool) (*sql.Tx, error) {
	return backoff.Retry(ctx, func() (*sql.Tx, error) {
		tx, err := db.BeginTx(ctx, opts)
		if err != nil && isRetryable(err) {
			return nil, err // retried
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return tx, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
}
