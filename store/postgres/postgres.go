/*
Package postgres provides the PostgreSQL implementation of points.Store,
usage.HistoryStore and carousel.Store.

PURPOSE:
  Production storage for the ledger. Several service instances can share one
  database: each unit of work row-locks the account with SELECT ... FOR UPDATE,
  so read-modify-write sequences on the same user serialize across processes.

ERROR MAPPING:
  40001 serialization_failure  -> points.ErrConcurrentModification
  40P01 deadlock_detected      -> points.ErrConcurrentModification
  55P03 lock_not_available     -> points.ErrConcurrentModification
  23505 unique_violation       -> points.ErrDuplicateSignIn (sign_ins only)

SEE ALSO:
  - store/sqlite: Same contract on SQLite
  - points/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/wordcheck/points-engine/points"
)

// Store implements points.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a connection pool for dsn and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Schema is applied by Migrate. Each statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id BIGINT PRIMARY KEY,
		current_points BIGINT NOT NULL DEFAULT 0 CHECK (current_points >= 0),
		total_earned BIGINT NOT NULL DEFAULT 0,
		total_spent BIGINT NOT NULL DEFAULT 0,
		level INT NOT NULL,
		level_name TEXT NOT NULL,
		next_level_threshold BIGINT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CHECK (current_points = total_earned - total_spent)
	)`,
	`CREATE TABLE IF NOT EXISTS point_records (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES accounts(user_id),
		delta BIGINT NOT NULL CHECK (delta <> 0),
		kind TEXT NOT NULL,
		reason TEXT,
		category TEXT NOT NULL,
		business_type TEXT,
		business_id TEXT,
		remark TEXT,
		before_balance BIGINT NOT NULL,
		after_balance BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		CHECK (after_balance - before_balance = delta)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_point_records_user ON point_records(user_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_point_records_user_created ON point_records(user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sign_ins (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		sign_date DATE NOT NULL,
		continuous_days INT NOT NULL,
		points_awarded BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, sign_date)
	)`,
	`CREATE TABLE IF NOT EXISTS check_history (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		model_id TEXT NOT NULL,
		check_type TEXT,
		content TEXT NOT NULL,
		result TEXT,
		content_length INT NOT NULL,
		points_cost BIGINT NOT NULL,
		charged BOOLEAN NOT NULL DEFAULT FALSE,
		record_id BIGINT REFERENCES point_records(id),
		created_at TIMESTAMPTZ NOT NULL,
		deleted_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_check_history_user ON check_history(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS carousels (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		image_url TEXT NOT NULL,
		link_type TEXT NOT NULL DEFAULT 'page',
		link_url TEXT,
		app_id TEXT,
		sort_order INT NOT NULL DEFAULT 0,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		view_count BIGINT NOT NULL DEFAULT 0,
		click_count BIGINT NOT NULL DEFAULT 0,
		start_time TIMESTAMPTZ,
		end_time TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn in a READ COMMITTED transaction. Serialization comes from
// the row lock LockAccount takes.
func (s *Store) WithTx(ctx context.Context, userID points.UserID, fn func(tx points.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return classify(err)
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
		VALUES ($1, 0, 0, 0, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO NOTHING`,
		int64(userID), fresh.Level, fresh.LevelName, nullInt(fresh.NextLevelThreshold), now.UTC())
	if err != nil {
		return points.Account{}, fmt.Errorf("create account: %w", err)
	}

	return loadAccount(ctx, ts.q, accountColumns+` WHERE user_id = $1 FOR UPDATE`, userID)
}

func (ts *txStore) SaveAccount(ctx context.Context, a points.Account) error {
	_, err := ts.q.ExecContext(ctx, `
		UPDATE accounts SET
			current_points = $1, total_earned = $2, total_spent = $3,
			level = $4, level_name = $5, next_level_threshold = $6, updated_at = $7
		WHERE user_id = $8`,
		a.CurrentPoints, a.TotalEarned, a.TotalSpent,
		a.Level, a.LevelName, nullInt(a.NextLevelThreshold), a.UpdatedAt.UTC(),
		int64(a.UserID))
	if err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (ts *txStore) AppendRecord(ctx context.Context, r points.TransactionRecord) (points.TransactionRecord, error) {
	err := ts.q.QueryRowContext(ctx, `
		INSERT INTO point_records
		(user_id, delta, kind, reason, category, business_type, business_id, remark,
		 before_balance, after_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		int64(r.UserID), r.Delta, string(r.Kind), nullString(r.Reason), string(r.Category),
		nullString(r.Ref.Type), nullString(r.Ref.ID), nullString(r.Remark),
		r.BeforeBalance, r.AfterBalance, r.CreatedAt.UTC()).Scan(&r.ID)
	if err != nil {
		return points.TransactionRecord{}, fmt.Errorf("append record: %w", err)
	}
	return r, nil
}

func (ts *txStore) SignInOn(ctx context.Context, userID points.UserID, day points.Day) (*points.SignInEntry, error) {
	return querySignIn(ctx, ts.q, signInColumns+` WHERE user_id = $1 AND sign_date = $2`, int64(userID), day.String())
}

func (ts *txStore) LatestSignIn(ctx context.Context, userID points.UserID) (*points.SignInEntry, error) {
	return querySignIn(ctx, ts.q, latestSignInQuery, int64(userID))
}

func (ts *txStore) InsertSignIn(ctx context.Context, e points.SignInEntry) (points.SignInEntry, error) {
	err := ts.q.QueryRowContext(ctx, `
		INSERT INTO sign_ins (user_id, sign_date, continuous_days, points_awarded, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		int64(e.UserID), e.Date.String(), e.ContinuousDays, e.PointsAwarded, e.CreatedAt.UTC()).Scan(&e.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return points.SignInEntry{}, points.ErrDuplicateSignIn
		}
		return points.SignInEntry{}, fmt.Errorf("insert sign-in: %w", err)
	}
	return e, nil
}

// =============================================================================
// READS
// =============================================================================

const accountColumns = `
	SELECT user_id, current_points, total_earned, total_spent, level, level_name,
	       next_level_threshold, created_at, updated_at
	FROM accounts`

func (s *Store) LoadAccount(ctx context.Context, userID points.UserID) (points.Account, error) {
	return loadAccount(ctx, s.db, accountColumns+` WHERE user_id = $1`, userID)
}

func loadAccount(ctx context.Context, q queryer, query string, userID points.UserID) (points.Account, error) {
	var (
		a    points.Account
		uid  int64
		next sql.NullInt64
	)
	err := q.QueryRowContext(ctx, query, int64(userID)).Scan(&uid, &a.CurrentPoints, &a.TotalEarned,
		&a.TotalSpent, &a.Level, &a.LevelName, &next, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Account{}, points.ErrAccountNotFound
	}
	if err != nil {
		return points.Account{}, fmt.Errorf("load account: %w", err)
	}
	a.UserID = points.UserID(uid)
	if next.Valid {
		n := next.Int64
		a.NextLevelThreshold = &n
	}
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
	query := recordColumns + ` WHERE user_id = $1` + filterClause(filter) + ` ORDER BY id DESC LIMIT $2 OFFSET $3`
	return s.queryRecords(ctx, query, int64(userID), limit, offset)
}

func (s *Store) CountRecords(ctx context.Context, userID points.UserID, filter points.RecordFilter) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM point_records WHERE user_id = $1`+filterClause(filter), int64(userID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *Store) RecordsBetween(ctx context.Context, userID points.UserID, from, to time.Time) ([]points.TransactionRecord, error) {
	query := recordColumns + ` WHERE user_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY id`
	return s.queryRecords(ctx, query, int64(userID), from.UTC(), to.UTC())
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
			uid                            int64
			kind, category                 string
			reason, bizType, bizID, remark sql.NullString
		)
		err := rows.Scan(&r.ID, &uid, &r.Delta, &kind, &reason, &category,
			&bizType, &bizID, &remark, &r.BeforeBalance, &r.AfterBalance, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.UserID = points.UserID(uid)
		r.Kind = points.Kind(kind)
		r.Category = points.Category(category)
		r.Reason = reason.String
		r.Ref = points.BusinessRef{Type: bizType.String, ID: bizID.String}
		r.Remark = remark.String
		records = append(records, r)
	}
	return records, rows.Err()
}

const signInColumns = `
	SELECT id, user_id, sign_date, continuous_days, points_awarded, created_at
	FROM sign_ins`

const latestSignInQuery = signInColumns + ` WHERE user_id = $1 ORDER BY sign_date DESC LIMIT 1`

func (s *Store) ListSignIns(ctx context.Context, userID points.UserID, from, to points.Day) ([]points.SignInEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		signInColumns+` WHERE user_id = $1 AND sign_date BETWEEN $2 AND $3 ORDER BY sign_date`,
		int64(userID), from.String(), to.String())
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
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sign_ins WHERE user_id = $1`, int64(userID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sign-ins: %w", err)
	}
	return n, nil
}

func (s *Store) LatestSignIn(ctx context.Context, userID points.UserID) (*points.SignInEntry, error) {
	return querySignIn(ctx, s.db, latestSignInQuery, int64(userID))
}

func querySignIn(ctx context.Context, q queryer, query string, args ...any) (*points.SignInEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sign-in: %w", err)
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
		e        points.SignInEntry
		uid      int64
		signDate time.Time
	)
	if err := rows.Scan(&e.ID, &uid, &signDate, &e.ContinuousDays, &e.PointsAwarded, &e.CreatedAt); err != nil {
		return e, fmt.Errorf("scan sign-in: %w", err)
	}
	e.UserID = points.UserID(uid)
	e.Date = points.NewDay(signDate.Year(), signDate.Month(), signDate.Day())
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

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

// classify tags lost races as concurrent modifications so the ledger retries.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %v", points.ErrConcurrentModification, err)
		}
	}
	return err
}
