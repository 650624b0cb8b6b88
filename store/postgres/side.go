package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wordcheck/points-engine/carousel"
	"github.com/wordcheck/points-engine/points"
	"github.com/wordcheck/points-engine/usage"
)

// =============================================================================
// CHECK HISTORY (usage.HistoryStore)
// =============================================================================

// SaveHistory inserts one check.
func (s *Store) SaveHistory(ctx context.Context, h usage.History) error {
	var recordID sql.NullInt64
	if h.RecordID != 0 {
		recordID = sql.NullInt64{Int64: h.RecordID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_history (id, user_id, model_id, check_type, content, result,
			content_length, points_cost, charged, record_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, h.ID, int64(h.UserID), h.ModelID, nullString(h.CheckType), h.Content, nullString(h.Result),
		h.ContentLength, h.PointsCost, h.Charged, recordID, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert check history: %w", err)
	}
	return nil
}

// MarkCharged links a check to the record that paid for it.
func (s *Store) MarkCharged(ctx context.Context, id string, recordID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE check_history SET charged = TRUE, record_id = $1 WHERE id = $2`, recordID, id)
	if err != nil {
		return fmt.Errorf("mark check history charged: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return usage.ErrHistoryNotFound
	}
	return nil
}

const historyColumns = `
	SELECT id, user_id, model_id, check_type, content, result, content_length,
		points_cost, charged, record_id, created_at
	FROM check_history`

// ListHistory returns the user's visible checks, newest first.
func (s *Store) ListHistory(ctx context.Context, userID points.UserID, offset, limit int) ([]usage.History, error) {
	rows, err := s.db.QueryContext(ctx, historyColumns+`
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, int64(userID), limit, offset)
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
		`SELECT COUNT(*) FROM check_history WHERE user_id = $1 AND deleted_at IS NULL`, int64(userID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count check history: %w", err)
	}
	return n, nil
}

// GetHistory returns one of the user's checks.
func (s *Store) GetHistory(ctx context.Context, userID points.UserID, id string) (usage.History, error) {
	row := s.db.QueryRowContext(ctx, historyColumns+`
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, int64(userID))
	h, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return usage.History{}, usage.ErrHistoryNotFound
	}
	return h, err
}

// DeleteHistory soft-deletes one of the user's checks; the row stays for the
// ledger record that references it.
func (s *Store) DeleteHistory(ctx context.Context, userID points.UserID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE check_history SET deleted_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, int64(userID))
	if err != nil {
		return fmt.Errorf("delete check history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return usage.ErrHistoryNotFound
	}
	return nil
}

func scanHistory(row interface{ Scan(dest ...any) error }) (usage.History, error) {
	var (
		h                 usage.History
		uid               int64
		checkType, result sql.NullString
		recordID          sql.NullInt64
	)
	if err := row.Scan(&h.ID, &uid, &h.ModelID, &checkType, &h.Content, &result,
		&h.ContentLength, &h.PointsCost, &h.Charged, &recordID, &h.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return usage.History{}, err
		}
		return usage.History{}, fmt.Errorf("scan check history: %w", err)
	}
	h.UserID = points.UserID(uid)
	h.CheckType = checkType.String
	h.Result = result.String
	h.RecordID = recordID.Int64
	return h, nil
}

// =============================================================================
// CAROUSELS (carousel.Store)
// =============================================================================

const carouselColumns = `
	SELECT id, title, description, image_url, link_type, link_url, app_id, sort_order,
		enabled, view_count, click_count, start_time, end_time, updated_at
	FROM carousels`

// ListActiveCarousels returns enabled banners inside their display window.
func (s *Store) ListActiveCarousels(ctx context.Context, now time.Time) ([]carousel.Carousel, error) {
	return s.queryCarousels(ctx, carouselColumns+`
		WHERE enabled
			AND (start_time IS NULL OR start_time <= $1)
			AND (end_time IS NULL OR end_time > $1)
		ORDER BY sort_order, id`, now)
}

// ListCarousels returns every banner.
func (s *Store) ListCarousels(ctx context.Context) ([]carousel.Carousel, error) {
	return s.queryCarousels(ctx, carouselColumns+` ORDER BY sort_order, id`)
}

// GetCarousel returns one banner or carousel.ErrNotFound.
func (s *Store) GetCarousel(ctx context.Context, id int64) (carousel.Carousel, error) {
	list, err := s.queryCarousels(ctx, carouselColumns+` WHERE id = $1`, id)
	if err != nil {
		return carousel.Carousel{}, err
	}
	if len(list) == 0 {
		return carousel.Carousel{}, carousel.ErrNotFound
	}
	return list[0], nil
}

// SaveCarousel inserts when c.ID is zero and updates otherwise. Counters are
// left alone.
func (s *Store) SaveCarousel(ctx context.Context, c carousel.Carousel) (carousel.Carousel, error) {
	args := []any{
		c.Title, nullString(c.Description), c.ImageURL, string(c.LinkType), nullString(c.LinkURL),
		nullString(c.AppID), c.Sort, c.Enabled, c.StartTime, c.EndTime, c.UpdatedAt,
	}

	if c.ID == 0 {
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO carousels (title, description, image_url, link_type, link_url, app_id,
				sort_order, enabled, start_time, end_time, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`, args...).Scan(&c.ID)
		if err != nil {
			return carousel.Carousel{}, fmt.Errorf("insert carousel: %w", err)
		}
		return s.GetCarousel(ctx, c.ID)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE carousels SET title = $1, description = $2, image_url = $3, link_type = $4,
			link_url = $5, app_id = $6, sort_order = $7, enabled = $8, start_time = $9,
			end_time = $10, updated_at = $11
		WHERE id = $12
	`, append(args, c.ID)...)
	if err != nil {
		return carousel.Carousel{}, fmt.Errorf("update carousel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return carousel.Carousel{}, carousel.ErrNotFound
	}
	return s.GetCarousel(ctx, c.ID)
}

// IncrementCarouselViews adds one view.
func (s *Store) IncrementCarouselViews(ctx context.Context, id int64) error {
	return s.increment(ctx, "view_count", id)
}

// IncrementCarouselClicks adds one click.
func (s *Store) IncrementCarouselClicks(ctx context.Context, id int64) error {
	return s.increment(ctx, "click_count", id)
}

func (s *Store) increment(ctx context.Context, column string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE carousels SET `+column+` = `+column+` + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment carousel %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return carousel.ErrNotFound
	}
	return nil
}

func (s *Store) queryCarousels(ctx context.Context, query string, args ...any) ([]carousel.Carousel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query carousels: %w", err)
	}
	defer rows.Close()

	var out []carousel.Carousel
	for rows.Next() {
		var (
			c                           carousel.Carousel
			description, linkURL, appID sql.NullString
			startTime, endTime          sql.NullTime
			linkType                    string
		)
		if err := rows.Scan(&c.ID, &c.Title, &description, &c.ImageURL, &linkType, &linkURL,
			&appID, &c.Sort, &c.Enabled, &c.ViewCount, &c.ClickCount, &startTime, &endTime,
			&c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan carousel: %w", err)
		}
		c.Description = description.String
		c.LinkType = carousel.LinkType(linkType)
		c.LinkURL = linkURL.String
		c.AppID = appID.String
		if startTime.Valid {
			c.StartTime = &startTime.Time
		}
		if endTime.Valid {
			c.EndTime = &endTime.Time
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
