package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wordcheck/points-engine/points"
	"github.com/wordcheck/points-engine/usage"
)

// =============================================================================
// CHECK HISTORY (usage.HistoryStore)
// =============================================================================

// SaveHistory inserts one check.
func (s *Store) SaveHistory(ctx context.Context, h usage.History) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_history (id, user_id, model_id, check_type, content, result,
			content_length, points_cost, charged, record_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.UserID, h.ModelID, nullString(h.CheckType), h.Content, nullString(h.Result),
		h.ContentLength, h.PointsCost, h.Charged, nullRecordID(h.RecordID), formatTime(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert check history: %w", err)
	}
	return nil
}

// MarkCharged links a check to the record that paid for it.
func (s *Store) MarkCharged(ctx context.Context, id string, recordID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE check_history SET charged = 1, record_id = ? WHERE id = ?`, recordID, id)
	if err != nil {
		return fmt.Errorf("mark check history charged: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return usage.ErrHistoryNotFound
	}
	return nil
}

// ListHistory returns the user's checks, newest first.
func (s *Store) ListHistory(ctx context.Context, userID points.UserID, offset, limit int) ([]usage.History, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, model_id, check_type, content, result, content_length,
			points_cost, charged, record_id, created_at
		FROM check_history WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query check history: %w", err)
	}
	defer rows.Close()

	var out []usage.History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountHistory counts the user's visible checks.
func (s *Store) CountHistory(ctx context.Context, userID points.UserID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM check_history WHERE user_id = ? AND deleted_at IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count check history: %w", err)
	}
	return n, nil
}

// GetHistory returns one of the user's checks.
func (s *Store) GetHistory(ctx context.Context, userID points.UserID, id string) (usage.History, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, model_id, check_type, content, result, content_length,
			points_cost, charged, record_id, created_at
		FROM check_history WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, id, userID)
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return usage.History{}, usage.ErrHistoryNotFound
	}
	return h, err
}

// DeleteHistory soft-deletes one of the user's checks.
func (s *Store) DeleteHistory(ctx context.Context, userID points.UserID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE check_history SET deleted_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, formatTime(time.Now()), id, userID)
	if err != nil {
		return fmt.Errorf("delete check history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return usage.ErrHistoryNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (usage.History, error) {
	var (
		h                 usage.History
		checkType, result sql.NullString
		recordID          sql.NullInt64
		createdAt         string
	)
	if err := row.Scan(&h.ID, &h.UserID, &h.ModelID, &checkType, &h.Content, &result,
		&h.ContentLength, &h.PointsCost, &h.Charged, &recordID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return usage.History{}, err
		}
		return usage.History{}, fmt.Errorf("scan check history: %w", err)
	}
	h.CheckType = checkType.String
	h.Result = result.String
	h.RecordID = recordID.Int64
	h.CreatedAt = parseTime(createdAt)
	return h, nil
}

func nullRecordID(id int64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: id, Valid: true}
}
