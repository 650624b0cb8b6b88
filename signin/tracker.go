/*
Package signin implements the daily sign-in state machine on top of the ledger.

PURPOSE:
  A user may sign in once per calendar day. Each sign-in extends or resets
  the streak and credits 5 points plus a streak bonus.

INVARIANT:
  At most one sign-in per (user, day), and exactly one sign-in credit per
  sign-in. The check, the insert and the credit run in one ledger unit of
  work (user mutex + storage transaction), and the storage layer enforces
  UNIQUE (user_id, sign_date) underneath as a second line.

STREAK RULES:
  - Latest entry dated yesterday: streak = its streak + 1
  - Anything else (no entry, gap of 2+ days): streak = 1
  - Status shows 0 once the latest entry is older than yesterday

REWARD LADDER:
  streak >= 30: 5 + 30
  streak >= 21: 5 + 20
  streak >= 14: 5 + 15
  streak >= 7:  5 + 10
  otherwise:    5

DAYS:
  "Today" is the tracker clock's date in the configured location, not UTC.

SEE ALSO:
  - points/ledger.go: Atomically, CreditTx
  - reward.go: Reward ladder and streak helpers
*/
package signin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/wordcheck/points-engine/points"
)

// BusinessType tags ledger records created by sign-ins.
const BusinessType = "sign_in"

// Recorder receives sign-in outcomes. The metrics package implements it.
type Recorder interface {
	ObserveSignIn(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSignIn(string) {}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the ledger clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLocation sets the zone that decides which day "today" is.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// WithMetrics sets the outcome sink.
func WithMetrics(r Recorder) Option {
	return func(t *Tracker) {
		if r != nil {
			t.metrics = r
		}
	}
}

// Tracker records daily sign-ins and pays their rewards.
type Tracker struct {
	ledger  *points.Ledger
	store   points.Store
	log     *slog.Logger
	now     func() time.Time
	loc     *time.Location
	metrics Recorder
}

// NewTracker creates a tracker. The ledger and store must share storage.
func NewTracker(ledger *points.Ledger, store points.Store, opts ...Option) *Tracker {
	t := &Tracker{
		ledger:  ledger,
		store:   store,
		log:     slog.Default(),
		now:     ledger.Now,
		loc:     ledger.Location(),
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Result is what a successful sign-in produced.
type Result struct {
	Entry         points.SignInEntry       `json:"entry"`
	Account       points.Account           `json:"account"`
	Record        points.TransactionRecord `json:"record"`
	TotalSignDays int                      `json:"totalSignDays"`
}

// SignIn records today's sign-in and credits its reward.
// Returns *points.AlreadySignedError (errors.Is ErrAlreadySignedToday) on a repeat.
func (t *Tracker) SignIn(ctx context.Context, userID points.UserID) (Result, error) {
	now := t.now()
	today := points.DayOf(now, t.loc)

	var res Result
	err := t.ledger.Atomically(ctx, "sign in", userID, func(tx points.Tx) error {
		if _, err := tx.LockAccount(ctx, userID, now); err != nil {
			return err
		}

		existing, err := tx.SignInOn(ctx, userID, today)
		if err != nil {
			return err
		}
		if existing != nil {
			return &points.AlreadySignedError{UserID: userID, Date: today, Existing: existing}
		}

		last, err := tx.LatestSignIn(ctx, userID)
		if err != nil {
			return err
		}
		streak := NextStreak(last, today)
		reward := Reward(streak)

		entry, err := tx.InsertSignIn(ctx, points.SignInEntry{
			UserID:         userID,
			Date:           today,
			ContinuousDays: streak,
			PointsAwarded:  reward,
			CreatedAt:      now,
		})
		if errors.Is(err, points.ErrDuplicateSignIn) {
			return &points.AlreadySignedError{UserID: userID, Date: today}
		}
		if err != nil {
			return err
		}

		acct, rec, err := t.ledger.CreditTx(ctx, tx, userID, reward, points.Entry{
			Reason:   "Daily sign-in",
			Category: points.CategorySignIn,
			Ref:      points.BusinessRef{Type: BusinessType, ID: strconv.FormatInt(entry.ID, 10)},
			Remark:   fmt.Sprintf("continuous %d days", streak),
		})
		if err != nil {
			return err
		}

		res = Result{Entry: entry, Account: acct, Record: rec}
		return nil
	})
	if err != nil {
		if errors.Is(err, points.ErrAlreadySignedToday) {
			t.metrics.ObserveSignIn("duplicate")
		} else {
			t.metrics.ObserveSignIn("error")
			t.log.Error("sign-in failed",
				slog.String("user_id", userID.String()),
				slog.Any("error", err))
		}
		return Result{}, err
	}
	t.metrics.ObserveSignIn("ok")

	// The sign-in is committed; a failed count only costs the summary field.
	total, err := t.store.CountSignIns(ctx, userID)
	if err != nil {
		t.log.Warn("count sign-ins after commit",
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
	}
	res.TotalSignDays = total

	t.log.Info("user signed in",
		slog.String("user_id", userID.String()),
		slog.Int("continuous_days", res.Entry.ContinuousDays),
		slog.Int64("reward", res.Entry.PointsAwarded))
	return res, nil
}

// =============================================================================
// STATUS
// =============================================================================

// Status is the read-only sign-in summary for one user.
type Status struct {
	SignedToday    bool    `json:"signedToday"`
	ContinuousDays int     `json:"continuousDays"`
	TotalSignDays  int     `json:"totalSignDays"`
	TodayReward    int64   `json:"todayReward"`
	Week           [7]bool `json:"week"`  // Monday..Sunday of the current week
	Month          []bool  `json:"month"` // day 1..N of the current month
}

// GetStatus reports today's sign-in state and calendars. Writes nothing.
func (t *Tracker) GetStatus(ctx context.Context, userID points.UserID) (Status, error) {
	today := points.DayOf(t.now(), t.loc)

	last, err := t.store.LatestSignIn(ctx, userID)
	if err != nil {
		return Status{}, t.fail("sign-in status", userID, err)
	}
	total, err := t.store.CountSignIns(ctx, userID)
	if err != nil {
		return Status{}, t.fail("sign-in status", userID, err)
	}

	weekStart := today.StartOfWeek()
	monthStart := today.StartOfMonth()
	monthEnd := monthStart.AddDays(today.DaysInMonth() - 1)
	from, to := weekStart, weekStart.AddDays(6)
	if monthStart.Before(from) {
		from = monthStart
	}
	if monthEnd.After(to) {
		to = monthEnd
	}

	entries, err := t.store.ListSignIns(ctx, userID, from, to)
	if err != nil {
		return Status{}, t.fail("sign-in status", userID, err)
	}

	st := Status{
		ContinuousDays: CurrentStreak(last, today),
		TotalSignDays:  total,
		Month:          make([]bool, today.DaysInMonth()),
	}
	for _, e := range entries {
		if e.Date.Equal(today) {
			st.SignedToday = true
			st.TodayReward = e.PointsAwarded
		}
		if i := points.DaysBetween(weekStart, e.Date); i >= 0 && i < 7 {
			st.Week[i] = true
		}
		if i := points.DaysBetween(monthStart, e.Date); i >= 0 && i < len(st.Month) {
			st.Month[i] = true
		}
	}
	if !st.SignedToday {
		st.TodayReward = Reward(NextStreak(last, today))
	}
	return st, nil
}

func (t *Tracker) fail(op string, userID points.UserID, err error) error {
	t.log.Error(op+" failed", slog.String("user_id", userID.String()), slog.Any("error", err))
	return &points.SystemError{Op: op, UserID: userID, Err: err}
}
