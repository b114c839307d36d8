// Package txn implements TxnClient (spec §4.2): a thin wrapper over an
// internal/store.Engine exposing snapshot reads, fresh mutating
// transactions, and exec_in_txn with parent-transaction passthrough and a
// capped-exponential-backoff retry loop for transient store errors.
//
// Grounded on original_source/src/tikv/client.rs for the retry/commit/
// rollback shape; the backoff policy itself is github.com/cenkalti/backoff,
// an AKJUS-bsc-erigon dependency, rather than a hand-rolled sleep loop.
package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/redistd/redistd/internal/store"
)

// ErrRetryExhausted is returned when a transaction could not be committed
// within the configured number of attempts.
var ErrRetryExhausted = errors.New("txn: retry attempts exhausted")

// ErrTxnAborted is returned when body returns a non-retryable error; the
// underlying transaction has already been rolled back.
var ErrTxnAborted = errors.New("txn: aborted")

// RetryPolicy configures exec_in_txn's backoff (config §6:
// txn_retry_count, txn_*_backoff_*).
type RetryPolicy struct {
	MaxAttempts     int
	InitialBackoff  int64 // ms
	MaxBackoff      int64 // ms
	BackoffMultiple float64
}

// DefaultRetryPolicy matches the config table's documented defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     10,
		InitialBackoff:  10,
		MaxBackoff:      1000,
		BackoffMultiple: 2,
	}
}

// Client is the TxnClient.
type Client struct {
	eng    store.Engine
	policy RetryPolicy
	log    *zap.Logger
}

// New constructs a Client over the given Engine.
func New(eng store.Engine, policy RetryPolicy, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{eng: eng, policy: policy, log: log.Named("txn")}
}

// Snapshot returns a point-in-time read view.
func (c *Client) Snapshot(ctx context.Context) (store.Reader, error) {
	return c.eng.Snapshot(ctx)
}

// Begin opens a fresh mutating transaction, bypassing the retry loop; used
// by callers (MULTI/EXEC, EVAL) that manage their own transaction lifetime.
func (c *Client) Begin(ctx context.Context) (store.Txn, error) {
	return c.eng.Begin(ctx)
}

// ExecInTxn is the core contract of spec §4.2. If parent is non-nil, body
// runs against it directly and must not call Commit/Rollback — the caller
// owns that transaction's lifetime (MULTI/EXEC batching, or Lua redis.call
// re-entering the core). Otherwise ExecInTxn opens a fresh transaction,
// retrying on retryable (store.IsRetryable) commit failures with capped
// exponential backoff, and surfaces any other error immediately without
// retrying.
func (c *Client) ExecInTxn(ctx context.Context, parent store.Txn, body func(store.Txn) error) error {
	if parent != nil {
		return body(parent)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = msToDuration(c.policy.InitialBackoff)
	bo.MaxInterval = msToDuration(c.policy.MaxBackoff)
	bo.Multiplier = c.policy.BackoffMultiple
	bo.MaxElapsedTime = 0 // bounded by attempt count instead, not wall time

	attempts := c.policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				break
			}
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		}

		txn, err := c.eng.Begin(ctx)
		if err != nil {
			return fmt.Errorf("txn: begin: %w", err)
		}

		bodyErr := body(txn)
		if bodyErr != nil {
			_ = txn.Rollback(ctx)
			if store.IsRetryable(bodyErr) {
				lastErr = bodyErr
				c.log.Debug("retrying transaction body error", zap.Int("attempt", attempt), zap.Error(bodyErr))
				continue
			}
			return fmt.Errorf("%w: %v", ErrTxnAborted, bodyErr)
		}

		commitErr := txn.Commit(ctx)
		if commitErr == nil {
			return nil
		}
		if !store.IsRetryable(commitErr) {
			return fmt.Errorf("txn: commit: %w", commitErr)
		}
		lastErr = commitErr
		c.log.Debug("retrying transaction commit conflict", zap.Int("attempt", attempt), zap.Error(commitErr))
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
	}
	return ErrRetryExhausted
}
