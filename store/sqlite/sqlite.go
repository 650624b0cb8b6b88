/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements points.Store plus the side tables the service keeps next to the
  ledger (AI check history, carousels). Production runs on PostgreSQL
  (store/postgres); SQLite serves single-node deployments and tests.

INTERFACES IMPLEMENTED:
  points.Store:        Accounts, point records, sign-ins
  usage.HistoryStore:  AI check history (history.go)
  carousel.Store:      Carousel items and counters (carousel.go)

APPEND-ONLY ENFORCEMENT:
  point_records has BEFORE UPDATE / BEFORE DELETE triggers that abort.
  Corrections are new records, never edits.

KEY TABLES:
  accounts:       One row per user; CHECK keeps balance == earned - spent
  point_records:  Immutable record log; CHECK keeps after - before == delta
  sign_ins:       UNIQUE (user_id, sign_date) backs the one-per-day rule
  check_history:  One row per AI check; linked from point_records.business_id.
                  Deletes set deleted_at so that link never dangles.
  carousels:      Home page banners

CONCURRENCY:
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate), so the
  write lock is taken up front and the account read inside the transaction
  cannot go stale. SQLITE_BUSY/SQLITE_LOCKED after the busy timeout surface
  as points.ErrConcurrentModification for the ledger to retry.

IN-MEMORY DATABASES:
  ":memory:" gives every pooled connection its own database, so the pool is
  pinned to one connection. Never query s.db from inside a WithTx callback.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := points.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - points/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/wordcheck/points-engine/points"
)

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		user_id INTEGER PRIMARY KEY,
		current_points INTEGER NOT NULL DEFAULT 0 CHECK (current_points >= 0),
		total_earned INTEGER NOT NULL DEFAULT 0,
		total_spent INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL,
		level_name TEXT NOT NULL,
		next_level_threshold INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (current_points = total_earned - total_spent)
	);

	-- Point records (append-only)
	CREATE TABLE IF NOT EXISTS point_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		delta INTEGER NOT NULL CHECK (delta <> 0),
		kind TEXT NOT NULL,
		reason TEXT,
		category TEXT NOT NULL,
		business_type TEXT,
		business_id TEXT,
		remark TEXT,
		before_balance INTEGER NOT NULL,
		after_balance INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		CHECK (after_balance - before_balance = delta)
	);

	CREATE INDEX IF NOT EXISTS idx_point_records_user
		ON point_records(user_id, id);
	CREATE INDEX IF NOT EXISTS idx_point_records_user_created
		ON point_records(user_id, created_at);

	CREATE TRIGGER IF NOT EXISTS trg_point_records_no_update
		BEFORE UPDATE ON point_records
		BEGIN SELECT RAISE(ABORT, 'point_records is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_point_records_no_delete
		BEFORE DELETE ON point_records
		BEGIN SELECT RAISE(ABORT, 'point_records is append-only'); END;

	-- Sign-ins: at most one per user per calendar day
	CREATE TABLE IF NOT EXISTS sign_ins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		sign_date TEXT NOT NULL,
		continuous_days INTEGER NOT NULL,
		points_awarded INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, sign_date)
	);

	CREATE TABLE IF NOT EXISTS check_history (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		model_id TEXT NOT NULL,
		check_type TEXT,
		content TEXT NOT NULL,
		result TEXT,
		content_length INTEGER NOT NULL,
		points_cost INTEGER NOT NULL,
		charged INTEGER NOT NULL DEFAULT 0,
		record_id INTEGER,
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_check_history_user
		ON check_history(user_id, created_at);

	CREATE TABLE IF NOT EXISTS carousels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT,
		image_url TEXT NOT NULL,
		link_type TEXT NOT NULL DEFAULT 'page',
		link_url TEXT,
		app_id TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		view_count INTEGER NOT NULL DEFAULT 0,
		click_count INTEGER NOT NULL DEFAULT 0,
		start_time TEXT,
		end_time TEXT,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx executes fn within a BEGIN IMMEDIATE transaction.
func (s *Store) WithTx(ctx context.Context, userID points.UserID, fn func(tx points.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

type txStore struct {
	q queryer
}

func (ts *txStore) LockAccount(ctx context.Context, userID points.UserID, now time.Time) (points.Account, error) {
	fresh := points.NewAccount(userID, now)
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO accounts
		(user_id, current_points, total_earned, total_spent, level, level_name,
		 next_level_threshold, created_at, updated_at)
		VALUES (?, 0, 0, 0, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, fresh.Level, fresh.LevelName, nullInt(fresh.NextLevelThreshold),
		formatTime(now), formatTime(now))
	if err != nil {
		return points.Account{}, classify(fmt.Errorf("create account: %w", err))
	}

	return loadAccount(ctx, ts.q, userID)
}

func (ts *txStore) SaveAccount(ctx context.Context, a points.Account) error {
	_, err := ts.q.ExecContext(ctx, `
		UPDATE accounts SET
			current_points = ?, total_earned = ?, total_spent = ?,
			level = ?, level_name = ?, next_level_threshold = ?, updated_at = ?
		WHERE user_id = ?
	`, a.CurrentPoints, a.TotalEarned, a.TotalSpent,
		a.Level, a.LevelName, nullInt(a.NextLevelThreshold), formatTime(a.UpdatedAt),
		a.UserID)
	if err != nil {
		return classify(fmt.Errorf("save account: %w", err))
	}
	return nil
}

func (ts *txStore) AppendRecord(ctx context.Context, r points.TransactionRecord) (points.TransactionRecord, error) {
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO point_records
		(user_id, delta, kind, reason, category, business_type, business_id, remark,
		 before_balance, after_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.UserID, r.Delta, r.Kind, nullString(r.Reason), r.Category,
		nullString(r.Ref.Type), nullString(r.Ref.ID), nullString(r.Remark),
		r.BeforeBalance, r.AfterBalance, formatTime(r.CreatedAt))
	if err != nil {
		return points.TransactionRecord{}, classify(fmt.Errorf("append record: %w", err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return points.TransactionRecord{}, fmt.Errorf("append record: %w", err)
	}
	r.ID = id
	return r, nil
}

func (ts *txStore) SignInOn(ctx context.Context, userID points.UserID, day points.Day) (*points.SignInEntry, error) {
	return querySignIn(ctx, ts.q, signInColumns+` WHERE user_id = ? AND sign_date = ?`, userID, day.String())
}

func (ts *txStore) LatestSignIn(ctx context.Context, userID points.UserID) (*points.SignInEntry, error) {
	return latestSignIn(ctx, ts.q, userID)
}

func (ts *txStore) InsertSignIn(ctx context.Context, e points.SignInEntry) (points.SignInEntry, error) {
	res, err := ts.q.ExecContext(ctx, `
		INSERT INTO sign_ins (user_id, sign_date, continuous_days, points_awarded, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.UserID, e.Date.String(), e.ContinuousDays, e.PointsAwarded, formatTime(e.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return points.SignInEntry{}, points.ErrDuplicateSignIn
		}
		return points.SignInEntry{}, classify(fmt.Errorf("insert sign-in: %w", err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return points.SignInEntry{}, fmt.Errorf("insert sign-in: %w", err)
	}
	e.ID = id
	return e, nil
}

// =============================================================================
// READS (points.Store)
// =============================================================================

func (s *Store) LoadAccount(ctx context.Context, userID points.UserID) (points.Account, error) {
	return loadAccount(ctx, s.db, userID)
}

func loadAccount(ctx context.Context, q queryer, userID points.UserID) (points.Account, error) {
	var (
		a                  points.Account
		next               sql.NullInt64
		createdAt, updated string
	)
	err := q.QueryRowContext(ctx, `
		SELECT user_id, current_points, total_earned, total_spent, level, level_name,
		       next_level_threshold, created_at, updated_at
		FROM accounts WHERE user_id = ?
	`, userID).Scan(&a.UserID, &a.CurrentPoints, &a.TotalEarned, &a.TotalSpent,
		&a.Level, &a.LevelName, &next, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Account{}, points.ErrAccountNotFound
	}
	if err != nil {
		return points.Account{}, classify(fmt.Errorf("load account: %w", err))
	}

	if next.Valid {
		n := next.Int64
		a.NextLevelThreshold = &n
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updated)
	return a, nil
}

const recordColumns = `
	SELECT id, user_id, delta, kind, reason, category, business_type, business_id,
	       remark, before_balance, after_balance, created_at
	FROM point_records`

func filterClause(f points.RecordFilter) string {
	switch f {
	case points.FilterEarn:
		return " AND delta > 0"
	case points.FilterSpend:
		return " AND delta < 0"
	default:
		return ""
	}
}

func (s *Store) ListRecords(ctx context.Context, userID points.UserID, filter points.RecordFilter, offset, limit int) ([]points.TransactionRecord, error) {
	query := recordColumns + ` WHERE user_id = ?` + filterClause(filter) + ` ORDER BY id DESC LIMIT ? OFFSET ?`
	return s.queryRecords(ctx, query, userID, limit, offset)
}

func (s *Store) CountRecords(ctx context.Context, userID points.UserID, filter points.RecordFilter) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM point_records WHERE user_id = ?`+filterClause(filter), userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *Store) RecordsBetween(ctx context.Context, userID points.UserID, from, to time.Time) ([]points.TransactionRecord, error) {
	query := recordColumns + ` WHERE user_id = ? AND created_at >= ? AND created_at < ? ORDER BY id`
	return s.queryRecords(ctx, query, userID, formatTime(from), formatTime(to))
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]points.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []points.TransactionRecord
	for rows.Next() {
		var (
			r                              points.TransactionRecord
			reason, bizType, bizID, remark sql.NullString
			createdAt                      string
		)
		err := rows.Scan(&r.ID, &r.UserID, &r.Delta, &r.Kind, &reason, &r.Category,
			&bizType, &bizID, &remark, &r.BeforeBalance, &r.AfterBalance, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Reason = reason.String
		r.Ref = points.BusinessRef{Type: bizType.String, ID: bizID.String}
		r.Remark = remark.String
		r.CreatedAt = parseTime(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

const signInColumns = `
	SELECT id, user_id, sign_date, continuous_days, points_awarded, created_at
	FROM sign_ins`

func (s *Store) ListSignIns(ctx context.Context, userID points.UserID, from, to points.Day) ([]points.SignInEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		signInColumns+` WHERE user_id = ? AND sign_date >= ? AND sign_date <= ? ORDER BY sign_date`,
		userID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("query sign-ins: %w", err)
	}
	defer rows.Close()

	var entries []points.SignInEntry
	for rows.Next() {
		e, err := scanSignIn(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) CountSignIns(ctx context.Context, userID points.UserID) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sign_ins WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sign-ins: %w", err)
	}
	return n, nil
}

func (s *Store) LatestSignIn(ctx context.Context, userID points.UserID) (*points.SignInEntry, error) {
	return latestSignIn(ctx, s.db, userID)
}

func latestSignIn(ctx context.Context, q queryer, userID points.UserID) (*points.SignInEntry, error) {
	return querySignIn(ctx, q, signInColumns+` WHERE user_id = ? ORDER BY sign_date DESC LIMIT 1`, userID)
}

func querySignIn(ctx context.Context, q queryer, query string, args ...any) (*points.SignInEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("query sign-in: %w", err))
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanSignIn(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanSignIn(rows *sql.Rows) (points.SignInEntry, error) {
	var (
		e                   points.SignInEntry
		signDate, createdAt string
	)
	if err := rows.Scan(&e.ID, &e.UserID, &signDate, &e.ContinuousDays, &e.PointsAwarded, &createdAt); err != nil {
		return e, fmt.Errorf("scan sign-in: %w", err)
	}
	day, err := points.ParseDay(signDate)
	if err != nil {
		return e, err
	}
	e.Date = day
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

// classify tags lock contention as a concurrent modification so the ledger retries.
func classify(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", points.ErrConcurrentModification, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
