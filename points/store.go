/*
store.go - Persistence contract for accounts, records and sign-ins

PURPOSE:
  Defines what the ledger needs from storage. Implementations:
  - store/memory:   in-process, for tests and local development
  - store/sqlite:   single-node deployments and integration tests
  - store/postgres: production

TRANSACTIONS:
  Every mutation runs inside Store.WithTx. The first thing a unit of work does
  is Tx.LockAccount, which creates the account if needed and holds its row
  lock (FOR UPDATE on postgres, the write lock on sqlite) until commit.
  Returning an error from the callback rolls everything back.

CONFLICTS:
  Stores report lost races as ErrConcurrentModification so the ledger can
  retry. A (user, date) sign-in clash is reported as ErrDuplicateSignIn.

SEE ALSO:
  - ledger.go: The only caller of WithTx
*/
package points

import (
	"context"
	"time"
)

// Store is the read side plus the transaction entry point.
type Store interface {
	// WithTx runs fn inside one storage transaction scoped to userID.
	WithTx(ctx context.Context, userID UserID, fn func(tx Tx) error) error

	// LoadAccount returns ErrAccountNotFound if the user was never touched.
	LoadAccount(ctx context.Context, userID UserID) (Account, error)

	// ListRecords returns records newest first.
	ListRecords(ctx context.Context, userID UserID, filter RecordFilter, offset, limit int) ([]TransactionRecord, error)
	CountRecords(ctx context.Context, userID UserID, filter RecordFilter) (int, error)

	// RecordsBetween returns records with from <= CreatedAt < to, oldest first.
	RecordsBetween(ctx context.Context, userID UserID, from, to time.Time) ([]TransactionRecord, error)

	// ListSignIns returns entries with from <= Date <= to, oldest first.
	ListSignIns(ctx context.Context, userID UserID, from, to Day) ([]SignInEntry, error)
	CountSignIns(ctx context.Context, userID UserID) (int, error)
	LatestSignIn(ctx context.Context, userID UserID) (*SignInEntry, error)
}

// Tx is the write side, valid only inside Store.WithTx.
type Tx interface {
	// LockAccount returns the account, creating it at zero if absent,
	// and holds its lock until the transaction ends.
	LockAccount(ctx context.Context, userID UserID, now time.Time) (Account, error)
	SaveAccount(ctx context.Context, account Account) error

	// AppendRecord stores the record and returns it with its ID assigned.
	AppendRecord(ctx context.Context, record TransactionRecord) (TransactionRecord, error)

	SignInOn(ctx context.Context, userID UserID, day Day) (*SignInEntry, error)
	LatestSignIn(ctx context.Context, userID UserID) (*SignInEntry, error)

	// InsertSignIn returns ErrDuplicateSignIn if (UserID, Date) exists.
	InsertSignIn(ctx context.Context, entry SignInEntry) (SignInEntry, error)
}
