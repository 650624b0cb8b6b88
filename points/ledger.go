/*
ledger.go - Balance mutations and the record log

PURPOSE:
  The Ledger is the only writer of accounts and records. Credit and Debit
  update the account counters, recompute the level and append a record with
  before/after balances, all inside one storage transaction.

SERIALIZATION:
  Mutations for the same user are serialized twice:
  1. An in-process mutex keyed by user (distinct users never contend)
  2. The storage row lock taken by Tx.LockAccount
  The mutex keeps a single instance from retrying against itself; the row
  lock covers several instances sharing one database.

RETRIES:
  A unit of work that fails with ErrConcurrentModification is re-run from
  scratch, up to maxRetries times with exponential backoff. When retries run
  out the conflict is returned wrapped in *SystemError.

CANCELLATION:
  The caller's context is handed to storage. If it is cancelled before commit
  the transaction rolls back; once committed the result stands.

EXAMPLE:
  ledger := points.NewLedger(store, points.WithLogger(log))
  acct, rec, err := ledger.Debit(ctx, userID, 5, points.Entry{
      Reason:   "AI check",
      Category: points.CategoryAIUsage,
      Ref:      points.BusinessRef{Type: "check_history", ID: historyID},
  })
  if errors.Is(err, points.ErrInsufficientBalance) { ... }

SEE ALSO:
  - store.go: Store/Tx contract
  - stats.go: Read-side aggregates
  - signin/tracker.go: Uses Atomically + CreditTx
*/
package points

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Recorder receives ledger measurements. The metrics package implements it.
type Recorder interface {
	ObserveMutation(op string, category Category, outcome string, d time.Duration)
	StorageRetry(op string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMutation(string, Category, string, time.Duration) {}
func (nopRecorder) StorageRetry(string)                                    {}

// DefaultLocation is the zone used to bucket records and sign-ins into days.
var DefaultLocation = time.FixedZone("Asia/Shanghai", 8*60*60)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 20 * time.Millisecond
	maxRetryBackoff     = 500 * time.Millisecond

	defaultPageSize = 10
	maxPageSize     = 100
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. Nil keeps the default.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLocation sets the zone used for day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithRetry sets how often and how patiently storage conflicts are retried.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(l *Ledger) {
		if maxRetries >= 0 {
			l.maxRetries = maxRetries
		}
		if backoff > 0 {
			l.backoff = backoff
		}
	}
}

// WithMetrics sets the measurement sink.
func WithMetrics(r Recorder) Option {
	return func(l *Ledger) {
		if r != nil {
			l.metrics = r
		}
	}
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger serializes balance mutations per user on top of a Store.
type Ledger struct {
	store      Store
	locks      *userLocks
	log        *slog.Logger
	now        func() time.Time
	loc        *time.Location
	maxRetries int
	backoff    time.Duration
	metrics    Recorder
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		locks:      newUserLocks(),
		log:        slog.Default(),
		now:        time.Now,
		loc:        DefaultLocation,
		maxRetries: defaultMaxRetries,
		backoff:    defaultRetryBackoff,
		metrics:    nopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger clock's current time.
func (l *Ledger) Now() time.Time { return l.now() }

// Location returns the zone used for day boundaries.
func (l *Ledger) Location() *time.Location { return l.loc }

// Atomically runs fn as one serialized unit of work for userID: the user's
// mutex is held and fn runs inside a storage transaction. fn may be invoked
// more than once if storage reports a conflict, so it must not have side
// effects outside tx.
func (l *Ledger) Atomically(ctx context.Context, op string, userID UserID, fn func(tx Tx) error) error {
	release := l.locks.lock(userID)
	defer release()

	var err error
	for attempt := 0; ; attempt++ {
		err = l.store.WithTx(ctx, userID, fn)
		if err == nil || !IsRetryable(err) || attempt >= l.maxRetries {
			break
		}

		l.metrics.StorageRetry(op)
		l.log.Warn("storage conflict, retrying",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.Int("attempt", attempt+1))

		select {
		case <-ctx.Done():
			return systemError(op, userID, ctx.Err())
		case <-time.After(l.retryDelay(attempt)):
		}
	}
	return systemError(op, userID, err)
}

func (l *Ledger) retryDelay(attempt int) time.Duration {
	d := l.backoff << attempt
	if d > maxRetryBackoff || d <= 0 {
		return maxRetryBackoff
	}
	return d
}

// GetAccount returns the user's account, creating it on first touch.
func (l *Ledger) GetAccount(ctx context.Context, userID UserID) (Account, error) {
	acct, err := l.store.LoadAccount(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, l.fail("get account", userID, err)
	}

	err = l.Atomically(ctx, "get account", userID, func(tx Tx) error {
		var err error
		acct, err = tx.LockAccount(ctx, userID, l.now())
		return err
	})
	if err != nil {
		return Account{}, l.fail("get account", userID, err)
	}
	return acct, nil
}

// Credit adds amount points. amount must be positive.
func (l *Ledger) Credit(ctx context.Context, userID UserID, amount int64, e Entry) (Account, TransactionRecord, error) {
	if amount <= 0 {
		return Account{}, TransactionRecord{}, ErrInvalidAmount
	}
	return l.mutate(ctx, "credit", userID, amount, e)
}

// Debit removes amount points. amount must be positive and not exceed the
// balance; a short balance yields *InsufficientBalanceError and changes nothing.
func (l *Ledger) Debit(ctx context.Context, userID UserID, amount int64, e Entry) (Account, TransactionRecord, error) {
	if amount <= 0 {
		return Account{}, TransactionRecord{}, ErrInvalidAmount
	}
	return l.mutate(ctx, "debit", userID, -amount, e)
}

// Adjust is the administrator path: a positive delta credits, a negative one
// debits. Category defaults to CategoryAdminAdjust.
func (l *Ledger) Adjust(ctx context.Context, userID UserID, delta int64, e Entry) (Account, TransactionRecord, error) {
	if e.Category == "" {
		e.Category = CategoryAdminAdjust
	}
	switch {
	case delta > 0:
		return l.Credit(ctx, userID, delta, e)
	case delta < 0:
		return l.Debit(ctx, userID, -delta, e)
	default:
		return Account{}, TransactionRecord{}, ErrInvalidAmount
	}
}

// CreditTx applies a credit inside a unit of work started by Atomically.
func (l *Ledger) CreditTx(ctx context.Context, tx Tx, userID UserID, amount int64, e Entry) (Account, TransactionRecord, error) {
	if amount <= 0 {
		return Account{}, TransactionRecord{}, ErrInvalidAmount
	}
	return l.apply(ctx, tx, userID, amount, e)
}

func (l *Ledger) mutate(ctx context.Context, op string, userID UserID, delta int64, e Entry) (Account, TransactionRecord, error) {
	if e.Category == "" {
		e.Category = CategoryOther
	}
	start := time.Now()

	var (
		acct Account
		rec  TransactionRecord
	)
	err := l.Atomically(ctx, op, userID, func(tx Tx) error {
		var err error
		acct, rec, err = l.apply(ctx, tx, userID, delta, e)
		return err
	})
	l.metrics.ObserveMutation(op, e.Category, outcome(err), time.Since(start))
	if err != nil {
		return Account{}, TransactionRecord{}, l.fail(op, userID, err)
	}

	l.log.Info("points "+op+"ed",
		slog.String("user_id", userID.String()),
		slog.Int64("delta", delta),
		slog.Int64("balance", acct.CurrentPoints),
		slog.String("category", string(e.Category)),
		slog.Int64("record_id", rec.ID))
	return acct, rec, nil
}

// apply is the read-modify-write of one mutation. Caller holds the user's lock.
func (l *Ledger) apply(ctx context.Context, tx Tx, userID UserID, delta int64, e Entry) (Account, TransactionRecord, error) {
	now := l.now()
	acct, err := tx.LockAccount(ctx, userID, now)
	if err != nil {
		return Account{}, TransactionRecord{}, err
	}

	if delta < 0 && acct.CurrentPoints < -delta {
		return Account{}, TransactionRecord{}, &InsufficientBalanceError{
			UserID:    userID,
			Available: acct.CurrentPoints,
			Requested: -delta,
			Shortfall: -delta - acct.CurrentPoints,
		}
	}

	before := acct.CurrentPoints
	acct.CurrentPoints += delta
	kind := KindIncrease
	if delta > 0 {
		acct.TotalEarned += delta
	} else {
		acct.TotalSpent -= delta
		kind = KindDecrease
	}
	acct.applyLevel()
	acct.UpdatedAt = now

	if err := tx.SaveAccount(ctx, acct); err != nil {
		return Account{}, TransactionRecord{}, err
	}

	category := e.Category
	if category == "" {
		category = CategoryOther
	}
	rec, err := tx.AppendRecord(ctx, TransactionRecord{
		UserID:        userID,
		Delta:         delta,
		Kind:          kind,
		Reason:        e.Reason,
		Category:      category,
		Ref:           e.Ref,
		Remark:        e.Remark,
		BeforeBalance: before,
		AfterBalance:  acct.CurrentPoints,
		CreatedAt:     now,
	})
	if err != nil {
		return Account{}, TransactionRecord{}, err
	}
	return acct, rec, nil
}

// fail logs non-client failures and returns them wrapped as system errors.
func (l *Ledger) fail(op string, userID UserID, err error) error {
	err = systemError(op, userID, err)
	if errors.Is(err, ErrSystem) {
		l.log.Error("ledger operation failed",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}

// =============================================================================
// RECORD LISTING
// =============================================================================

// RecordQuery selects one page of a user's records.
type RecordQuery struct {
	Filter   RecordFilter
	Page     int // 1-based; <1 means 1
	PageSize int // <1 means 10; capped at 100
}

// RecordPage is one page of records, newest first.
type RecordPage struct {
	Records    []TransactionRecord `json:"records"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"pageSize"`
	TotalPages int                 `json:"totalPages"`
}

// ListRecords returns one page of the user's records.
func (l *Ledger) ListRecords(ctx context.Context, userID UserID, q RecordQuery) (RecordPage, error) {
	if q.Filter == "" {
		q.Filter = FilterAll
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}

	total, err := l.store.CountRecords(ctx, userID, q.Filter)
	if err != nil {
		return RecordPage{}, l.fail("list records", userID, err)
	}

	page := RecordPage{
		Records:    []TransactionRecord{},
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: (total + q.PageSize - 1) / q.PageSize,
	}
	offset := (q.Page - 1) * q.PageSize
	if offset >= total {
		return page, nil
	}

	records, err := l.store.ListRecords(ctx, userID, q.Filter, offset, q.PageSize)
	if err != nil {
		return RecordPage{}, l.fail("list records", userID, err)
	}
	if records != nil {
		page.Records = records
	}
	return page, nil
}
