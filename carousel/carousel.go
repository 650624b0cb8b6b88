/*
carousel.go - Home page banners

PURPOSE:
  Serves the banner list shown on the mini-program home page and counts
  views and clicks.

CACHING:
  The active list and single items are cached for CacheTTL. Save drops both
  keys so edits show up on the next read. Counters are not part of the
  cached value's freshness contract: a cached item may lag its counts by up
  to CacheTTL.

COUNTERS:
  RecordView/RecordClick hand the increment to the task dispatcher and
  return immediately. An increment may be lost (queue full, shutdown); it is
  never applied twice.

SEE ALSO:
  - cache/cache.go: Cache contract
  - tasks/dispatcher.go: Background execution
  - store/sqlite/carousel.go: Persistence
*/
package carousel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/wordcheck/points-engine/cache"
	"github.com/wordcheck/points-engine/tasks"
)

// CacheTTL bounds how stale a served banner can be.
const CacheTTL = 10 * time.Minute

const activeKey = "carousel:active"

var (
	// ErrNotFound is returned when no carousel has the given id.
	ErrNotFound = errors.New("carousel not found")

	// ErrInvalid is returned by Validate.
	ErrInvalid = errors.New("invalid carousel")
)

// LinkType says where a banner tap leads.
type LinkType string

const (
	LinkPage        LinkType = "page"
	LinkWeb         LinkType = "web"
	LinkMiniProgram LinkType = "miniprogram"
)

// Carousel is one banner.
type Carousel struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ImageURL    string     `json:"imageUrl"`
	LinkType    LinkType   `json:"linkType"`
	LinkURL     string     `json:"linkUrl,omitempty"`
	AppID       string     `json:"appId,omitempty"`
	Sort        int        `json:"sort"`
	Enabled     bool       `json:"enabled"`
	ViewCount   int64      `json:"viewCount"`
	ClickCount  int64      `json:"clickCount"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Validate checks the fields an editor must fill.
func (c Carousel) Validate() error {
	if c.Title == "" || c.ImageURL == "" {
		return fmt.Errorf("%w: title and image url are required", ErrInvalid)
	}
	switch c.LinkType {
	case LinkPage, LinkWeb:
	case LinkMiniProgram:
		if c.AppID == "" {
			return fmt.Errorf("%w: app id is required for miniprogram links", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown link type %q", ErrInvalid, c.LinkType)
	}
	if c.StartTime != nil && c.EndTime != nil && c.EndTime.Before(*c.StartTime) {
		return fmt.Errorf("%w: end time before start time", ErrInvalid)
	}
	return nil
}

// Store persists carousels. store/sqlite implements it.
type Store interface {
	// ListActiveCarousels returns enabled banners showing at now, ordered by sort then id.
	ListActiveCarousels(ctx context.Context, now time.Time) ([]Carousel, error)
	ListCarousels(ctx context.Context) ([]Carousel, error)
	GetCarousel(ctx context.Context, id int64) (Carousel, error)
	SaveCarousel(ctx context.Context, c Carousel) (Carousel, error)
	IncrementCarouselViews(ctx context.Context, id int64) error
	IncrementCarouselClicks(ctx context.Context, id int64) error
}

// Service is the cached read path plus async counters.
type Service struct {
	store Store
	cache cache.Cache
	tasks *tasks.Dispatcher
	log   *slog.Logger
	now   func() time.Time
}

// NewService creates a carousel Service.
func NewService(store Store, c cache.Cache, d *tasks.Dispatcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, cache: c, tasks: d, log: log, now: time.Now}
}

// Active returns the banners currently showing.
func (s *Service) Active(ctx context.Context) ([]Carousel, error) {
	var list []Carousel
	if ok, err := s.cache.Get(ctx, activeKey, &list); err != nil {
		s.log.Warn("carousel cache read", slog.Any("error", err))
	} else if ok {
		return showing(list, s.now()), nil
	}

	list, err := s.store.ListActiveCarousels(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active carousels: %w", err)
	}
	if list == nil {
		list = []Carousel{}
	}
	if err := s.cache.Set(ctx, activeKey, list, CacheTTL); err != nil {
		s.log.Warn("carousel cache write", slog.Any("error", err))
	}
	return list, nil
}

// All returns every banner, uncached. For the admin console.
func (s *Service) All(ctx context.Context) ([]Carousel, error) {
	return s.store.ListCarousels(ctx)
}

// Get returns one banner.
func (s *Service) Get(ctx context.Context, id int64) (Carousel, error) {
	var c Carousel
	key := itemKey(id)
	if ok, err := s.cache.Get(ctx, key, &c); err != nil {
		s.log.Warn("carousel cache read", slog.Any("error", err))
	} else if ok {
		return c, nil
	}

	c, err := s.store.GetCarousel(ctx, id)
	if err != nil {
		return Carousel{}, err
	}
	if err := s.cache.Set(ctx, key, c, CacheTTL); err != nil {
		s.log.Warn("carousel cache write", slog.Any("error", err))
	}
	return c, nil
}

// Save creates or updates a banner and drops the cached copies.
func (s *Service) Save(ctx context.Context, c Carousel) (Carousel, error) {
	if c.LinkType == "" {
		c.LinkType = LinkPage
	}
	if err := c.Validate(); err != nil {
		return Carousel{}, err
	}
	c.UpdatedAt = s.now()

	saved, err := s.store.SaveCarousel(ctx, c)
	if err != nil {
		return Carousel{}, fmt.Errorf("save carousel: %w", err)
	}
	if err := s.cache.Invalidate(ctx, activeKey, itemKey(saved.ID)); err != nil {
		s.log.Warn("carousel cache invalidate", slog.Int64("id", saved.ID), slog.Any("error", err))
	}
	return saved, nil
}

// RecordView counts a view in the background. It reports whether the
// increment was queued.
func (s *Service) RecordView(id int64) bool {
	return s.tasks.Submit("carousel.view", func(ctx context.Context) error {
		return s.store.IncrementCarouselViews(ctx, id)
	})
}

// RecordClick counts a click in the background.
func (s *Service) RecordClick(id int64) bool {
	return s.tasks.Submit("carousel.click", func(ctx context.Context) error {
		return s.store.IncrementCarouselClicks(ctx, id)
	})
}

func itemKey(id int64) string {
	return "carousel:" + strconv.FormatInt(id, 10)
}

// showing drops cached banners whose window closed after they were cached.
func showing(list []Carousel, now time.Time) []Carousel {
	out := list[:0]
	for _, c := range list {
		if c.Showing(now) {
			out = append(out, c)
		}
	}
	return out
}

// Showing reports whether c is enabled and inside its display window at now.
func (c Carousel) Showing(now time.Time) bool {
	if !c.Enabled {
		return false
	}
	if c.StartTime != nil && now.Before(*c.StartTime) {
		return false
	}
	if c.EndTime != nil && !now.Before(*c.EndTime) {
		return false
	}
	return true
}
