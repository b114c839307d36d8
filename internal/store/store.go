// Package store defines the backing ordered key-value store contract (spec
// §6) — the abstraction every component above it (TxnClient, KeyCodec
// consumers, GC) is written against — plus MemEngine, an in-process
// implementation suitable for tests and single-node deployments.
//
// The interface intentionally mirrors johnjansen-torua's storage.Store
// shape (an ErrKeyNotFound sentinel, Get/Put/Delete) generalized with range
// scans, multi-key transactions, snapshot isolation, and a pessimistic
// get-for-update path, since a Percolator-style TKV needs all of those to
// express the algorithms in spec §4.
package store

import (
	"context"
	"errors"
)

// ErrKeyNotFound is never returned by Get (which reports absence via the
// second return value); it exists for callers that prefer the sentinel-error
// idiom, e.g. wrapping a remote backend whose client returns it directly.
type ErrKeyNotFound struct{ Key []byte }

func (e *ErrKeyNotFound) Error() string { return "store: key not found" }

// KV is one key/value pair returned from a range scan.
type KV struct {
	Key   []byte
	Value []byte
}

// Reader is satisfied by both a point-in-time Snapshot and an open Txn.
type Reader interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)

	// Scan returns up to limit key-value pairs in [start, end), ordered by
	// key. A nil end means unbounded. limit <= 0 means unbounded.
	Scan(ctx context.Context, start, end []byte, limit int) ([]KV, error)

	// BatchGet looks up multiple keys in one round trip.
	BatchGet(ctx context.Context, keys [][]byte) (map[string][]byte, error)
}

// Txn is a single mutating transaction with snapshot isolation: all reads
// observe the state as of Begin, and Commit fails with a retryable
// *ConflictError if a key this transaction read was modified by another
// transaction that committed first.
type Txn interface {
	Reader

	// Put stages a write. Visible to subsequent reads on this Txn
	// (read-your-own-writes) but invisible to other transactions until
	// Commit succeeds.
	Put(ctx context.Context, key, value []byte) error

	// Delete stages a deletion. Idempotent.
	Delete(ctx context.Context, key []byte) error

	// GetForUpdate reads key and additionally takes an exclusive,
	// transaction-scoped lock on it, serializing concurrent
	// GetForUpdate/Commit on the same key. Released on Commit or Rollback.
	// This is the capability spec §6 requires for increment-like RMW paths.
	GetForUpdate(ctx context.Context, key []byte) ([]byte, bool, error)

	// Commit applies all staged writes atomically. On a conflict, returns a
	// *ConflictError (retryable per IsRetryable); on success, the
	// transaction is closed and must not be reused.
	Commit(ctx context.Context) error

	// Rollback discards all staged writes and releases any held locks. Safe
	// to call after a failed Commit; a no-op if the txn is already closed.
	Rollback(ctx context.Context) error
}

// Engine is the backing store itself: the thing TxnClient (internal/txn)
// opens snapshots and transactions against.
type Engine interface {
	// Snapshot returns a point-in-time read view as of the call.
	Snapshot(ctx context.Context) (Reader, error)

	// Begin opens a new mutating transaction.
	Begin(ctx context.Context) (Txn, error)

	Close() error
}

// ConflictError is returned by Commit when another transaction committed a
// conflicting write first. It is always retryable.
type ConflictError struct{ Key []byte }

func (e *ConflictError) Error() string { return "store: write conflict on key " + string(e.Key) }

// RetryableError is implemented by every error class spec §4.2/§7 classifies
// as transient (retry inside exec_in_txn up to the configured attempt
// count).
type RetryableError interface {
	error
	Retryable() bool
}

func (e *ConflictError) Retryable() bool { return true }

// IsRetryable reports whether err should be retried by TxnClient.ExecInTxn.
func IsRetryable(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}
