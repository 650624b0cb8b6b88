package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wordcheck/points-engine/carousel"
)

// =============================================================================
// CAROUSELS (carousel.Store)
// =============================================================================

const carouselColumns = `
	SELECT id, title, description, image_url, link_type, link_url, app_id, sort_order,
		enabled, view_count, click_count, start_time, end_time, updated_at
	FROM carousels`

// ListActiveCarousels returns enabled banners inside their display window.
func (s *Store) ListActiveCarousels(ctx context.Context, now time.Time) ([]carousel.Carousel, error) {
	ts := formatTime(now)
	return s.queryCarousels(ctx, carouselColumns+`
		WHERE enabled = 1
			AND (start_time IS NULL OR start_time <= ?)
			AND (end_time IS NULL OR end_time > ?)
		ORDER BY sort_order, id`, ts, ts)
}

// ListCarousels returns every banner.
func (s *Store) ListCarousels(ctx context.Context) ([]carousel.Carousel, error) {
	return s.queryCarousels(ctx, carouselColumns+` ORDER BY sort_order, id`)
}

// GetCarousel returns one banner or carousel.ErrNotFound.
func (s *Store) GetCarousel(ctx context.Context, id int64) (carousel.Carousel, error) {
	list, err := s.queryCarousels(ctx, carouselColumns+` WHERE id = ?`, id)
	if err != nil {
		return carousel.Carousel{}, err
	}
	if len(list) == 0 {
		return carousel.Carousel{}, carousel.ErrNotFound
	}
	return list[0], nil
}

// SaveCarousel inserts when c.ID is zero and updates otherwise. Counters are never
// overwritten by Save.
func (s *Store) SaveCarousel(ctx context.Context, c carousel.Carousel) (carousel.Carousel, error) {
	args := []any{
		c.Title, nullString(c.Description), c.ImageURL, string(c.LinkType), nullString(c.LinkURL),
		nullString(c.AppID), c.Sort, c.Enabled, nullTime(c.StartTime), nullTime(c.EndTime),
		formatTime(c.UpdatedAt),
	}

	if c.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO carousels (title, description, image_url, link_type, link_url, app_id,
				sort_order, enabled, start_time, end_time, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			return carousel.Carousel{}, fmt.Errorf("insert carousel: %w", err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return carousel.Carousel{}, fmt.Errorf("carousel id: %w", err)
		}
		return s.GetCarousel(ctx, c.ID)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE carousels SET title = ?, description = ?, image_url = ?, link_type = ?,
			link_url = ?, app_id = ?, sort_order = ?, enabled = ?, start_time = ?,
			end_time = ?, updated_at = ?
		WHERE id = ?
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
		`UPDATE carousels SET `+column+` = `+column+` + 1 WHERE id = ?`, id)
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
			startTime, endTime          sql.NullString
			linkType, updatedAt         string
		)
		if err := rows.Scan(&c.ID, &c.Title, &description, &c.ImageURL, &linkType, &linkURL,
			&appID, &c.Sort, &c.Enabled, &c.ViewCount, &c.ClickCount, &startTime, &endTime,
			&updatedAt); err != nil {
			return nil, fmt.Errorf("scan carousel: %w", err)
		}
		c.Description = description.String
		c.LinkType = carousel.LinkType(linkType)
		c.LinkURL = linkURL.String
		c.AppID = appID.String
		c.StartTime = parseNullTime(startTime)
		c.EndTime = parseNullTime(endTime)
		c.UpdatedAt = parseTime(updatedAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
