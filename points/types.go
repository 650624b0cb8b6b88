/*
Package points is the points ledger core: accounts, the append-only record log,
level derivation and content pricing.

PURPOSE:
  Every change to a user's balance goes through the Ledger. The Ledger updates
  the account counters and appends a TransactionRecord in the same storage
  transaction, so the account and the log can never disagree.

CRITICAL INVARIANTS:
  1. CurrentPoints == TotalEarned - TotalSpent, always
  2. CurrentPoints never goes negative (debits are refused, never clamped)
  3. AfterBalance - BeforeBalance == Delta on every record
  4. Records chain: a user's next BeforeBalance is the previous AfterBalance
  5. Level is a pure function of TotalEarned

SEE ALSO:
  - ledger.go: Credit/Debit/ListRecords
  - store.go: Persistence contract
  - signin/: Daily sign-in rewards built on Ledger.Atomically
*/
package points

import (
	"strconv"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID identifies the owner of an account.
type UserID int64

func (u UserID) String() string { return strconv.FormatInt(int64(u), 10) }

// ParseUserID parses a decimal user id. Zero and negative ids are rejected.
func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, strconv.ErrRange
	}
	return UserID(n), nil
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is the per-user balance summary.
// Created lazily on first touch and never deleted.
type Account struct {
	UserID             UserID    `json:"userId"`
	CurrentPoints      int64     `json:"currentPoints"`
	TotalEarned        int64     `json:"totalEarned"`
	TotalSpent         int64     `json:"totalSpent"`
	Level              int       `json:"level"`
	LevelName          string    `json:"levelName"`
	NextLevelThreshold *int64    `json:"nextLevelThreshold"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// NewAccount returns the zero-balance account a user gets on first touch.
func NewAccount(userID UserID, now time.Time) Account {
	a := Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	a.applyLevel()
	return a
}

// Consistent reports whether the balance equals earned minus spent.
func (a Account) Consistent() bool {
	return a.CurrentPoints >= 0 && a.CurrentPoints == a.TotalEarned-a.TotalSpent
}

func (a *Account) applyLevel() {
	lvl := LevelFor(a.TotalEarned)
	a.Level = lvl.Number
	a.LevelName = lvl.Name
	a.NextLevelThreshold = lvl.NextThreshold
}

// =============================================================================
// TRANSACTION RECORD
// =============================================================================

// Category classifies why points moved.
type Category string

const (
	CategorySignIn      Category = "sign_in"
	CategoryAIUsage     Category = "ai_usage"
	CategoryAdminAdjust Category = "admin_adjust"
	CategorySystemGrant Category = "system_grant"
	CategoryTask        Category = "task"
	CategoryExchange    Category = "exchange"
	CategoryExpire      Category = "expire"
	CategoryOther       Category = "other"
)

// Kind is the direction of a record.
type Kind string

const (
	KindIncrease Kind = "increase"
	KindDecrease Kind = "decrease"

	// Reserved. Nothing produces frozen balances yet.
	KindFreeze   Kind = "freeze"
	KindUnfreeze Kind = "unfreeze"
)

// BusinessRef links a record to the business object that caused it,
// e.g. {Type: "sign_in", ID: "42"} or {Type: "check_history", ID: "<uuid>"}.
type BusinessRef struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

// IsZero reports whether no reference was set.
func (r BusinessRef) IsZero() bool { return r.Type == "" && r.ID == "" }

// Entry describes a mutation the caller asks the ledger to make.
type Entry struct {
	Reason   string
	Category Category
	Ref      BusinessRef
	Remark   string
}

// TransactionRecord is one immutable line of a user's point history.
type TransactionRecord struct {
	ID            int64       `json:"id"`
	UserID        UserID      `json:"userId"`
	Delta         int64       `json:"delta"`
	Kind          Kind        `json:"kind"`
	Reason        string      `json:"reason"`
	Category      Category    `json:"category"`
	Ref           BusinessRef `json:"businessRef"`
	Remark        string      `json:"remark,omitempty"`
	BeforeBalance int64       `json:"beforeBalance"`
	AfterBalance  int64       `json:"afterBalance"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// RecordFilter selects records by the sign of their delta.
type RecordFilter string

const (
	FilterAll   RecordFilter = "all"
	FilterEarn  RecordFilter = "earn"
	FilterSpend RecordFilter = "spend"
)

// ParseRecordFilter maps query values to a filter. Empty means all.
func ParseRecordFilter(s string) (RecordFilter, bool) {
	switch RecordFilter(s) {
	case "", FilterAll:
		return FilterAll, true
	case FilterEarn:
		return FilterEarn, true
	case FilterSpend:
		return FilterSpend, true
	default:
		return "", false
	}
}

// Matches reports whether a record passes the filter.
func (f RecordFilter) Matches(r TransactionRecord) bool {
	switch f {
	case FilterEarn:
		return r.Delta > 0
	case FilterSpend:
		return r.Delta < 0
	default:
		return true
	}
}

// =============================================================================
// SIGN-IN ENTRY
// =============================================================================

// SignInEntry is one day's sign-in. At most one per (UserID, Date).
type SignInEntry struct {
	ID             int64     `json:"id"`
	UserID         UserID    `json:"userId"`
	Date           Day       `json:"date"`
	ContinuousDays int       `json:"continuousDays"`
	PointsAwarded  int64     `json:"pointsAwarded"`
	CreatedAt      time.Time `json:"createdAt"`
}
