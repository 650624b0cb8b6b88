// Package memory provides an in-process points.Store (for tests/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wordcheck/points-engine/points"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps one shard per user. A transaction holds its user's shard lock
// from start to commit and restores a snapshot if the callback fails.
type Memory struct {
	mu     sync.RWMutex
	shards map[points.UserID]*shard

	recordSeq atomic.Int64
	signInSeq atomic.Int64

	// conflicts makes the next N WithTx calls fail with ErrConcurrentModification.
	conflicts atomic.Int64
}

type shard struct {
	mu      sync.Mutex
	account *points.Account
	records []points.TransactionRecord // oldest first
	signIns []points.SignInEntry       // by date
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{shards: make(map[points.UserID]*shard)}
}

// InjectConflicts makes the next n transactions fail as if another writer won.
func (m *Memory) InjectConflicts(n int) {
	m.conflicts.Store(int64(n))
}

func (m *Memory) shard(userID points.UserID) *shard {
	m.mu.RLock()
	s, ok := m.shards[userID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.shards[userID]; !ok {
		s = &shard{}
		m.shards[userID] = s
	}
	return s
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn with userID's shard locked. Changes are undone if fn fails
// or ctx is cancelled before fn returns.
func (m *Memory) WithTx(ctx context.Context, userID points.UserID, fn func(tx points.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.conflicts.Load() > 0 && m.conflicts.Add(-1) >= 0 {
		return points.ErrConcurrentModification
	}

	s := m.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	err := fn(&memTx{store: m, userID: userID, s: s})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	account *points.Account
	records int
	signIns []points.SignInEntry
}

func (s *shard) snapshot() snapshot {
	snap := snapshot{records: len(s.records)}
	if s.account != nil {
		a := *s.account
		snap.account = &a
	}
	snap.signIns = append([]points.SignInEntry(nil), s.signIns...)
	return snap
}

func (s *shard) restore(snap snapshot) {
	s.account = snap.account
	s.records = s.records[:snap.records]
	s.signIns = snap.signIns
}

type memTx struct {
	store  *Memory
	userID points.UserID
	s      *shard
}

func (t *memTx) check(userID points.UserID) error {
	if userID != t.userID {
		return fmt.Errorf("transaction for user %s cannot touch user %s", t.userID, userID)
	}
	return nil
}

func (t *memTx) LockAccount(_ context.Context, userID points.UserID, now time.Time) (points.Account, error) {
	if err := t.check(userID); err != nil {
		return points.Account{}, err
	}
	if t.s.account == nil {
		a := points.NewAccount(userID, now)
		t.s.account = &a
	}
	return *t.s.account, nil
}

func (t *memTx) SaveAccount(_ context.Context, account points.Account) error {
	if err := t.check(account.UserID); err != nil {
		return err
	}
	t.s.account = &account
	return nil
}

func (t *memTx) AppendRecord(_ context.Context, r points.TransactionRecord) (points.TransactionRecord, error) {
	if err := t.check(r.UserID); err != nil {
		return points.TransactionRecord{}, err
	}
	r.ID = t.store.recordSeq.Add(1)
	t.s.records = append(t.s.records, r)
	return r, nil
}

func (t *memTx) SignInOn(_ context.Context, userID points.UserID, day points.Day) (*points.SignInEntry, error) {
	if err := t.check(userID); err != nil {
		return nil, err
	}
	return t.s.signInOn(day), nil
}

func (t *memTx) LatestSignIn(_ context.Context, userID points.UserID) (*points.SignInEntry, error) {
	if err := t.check(userID); err != nil {
		return nil, err
	}
	return t.s.latest(), nil
}

func (t *memTx) InsertSignIn(_ context.Context, e points.SignInEntry) (points.SignInEntry, error) {
	if err := t.check(e.UserID); err != nil {
		return points.SignInEntry{}, err
	}
	if t.s.signInOn(e.Date) != nil {
		return points.SignInEntry{}, points.ErrDuplicateSignIn
	}
	e.ID = t.store.signInSeq.Add(1)

	i := sort.Search(len(t.s.signIns), func(i int) bool {
		return t.s.signIns[i].Date.After(e.Date)
	})
	t.s.signIns = append(t.s.signIns, points.SignInEntry{})
	copy(t.s.signIns[i+1:], t.s.signIns[i:])
	t.s.signIns[i] = e
	return e, nil
}

func (s *shard) signInOn(day points.Day) *points.SignInEntry {
	for i := range s.signIns {
		if s.signIns[i].Date.Equal(day) {
			e := s.signIns[i]
			return &e
		}
	}
	return nil
}

func (s *shard) latest() *points.SignInEntry {
	if len(s.signIns) == 0 {
		return nil
	}
	e := s.signIns[len(s.signIns)-1]
	return &e
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) LoadAccount(_ context.Context, userID points.UserID) (points.Account, error) {
	s := m.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return points.Account{}, points.ErrAccountNotFound
	}
	return *s.account, nil
}

func (m *Memory) ListRecords(_ context.Context, userID points.UserID, filter points.RecordFilter, offset, limit int) ([]points.TransactionRecord, error) {
	s := m.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []points.TransactionRecord
	skipped := 0
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if !filter.Matches(s.records[i]) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, s.records[i])
	}
	return out, nil
}

func (m *Memory) CountRecords(_ context.Context, userID points.UserID, filter points.RecordFilter) (int, error) {
	s := m.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.records {
		if filter.Matches(r) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecordsBetween(_ context.Context, userID points.UserID, from, to time.Time) ([]points.TransactionRecord, error) {
	s := m.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []points.TransactionRecord
	for _, r := range s.records {
		if !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ListSignIns(_ context.Context, userID points.UserID, from, to points.Day) ([]points.SignInEntry, error) {
	s := m.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []points.SignInEntry
	for _, e := range s.signIns {
		if !e.Date.Before(from) && !e.Date.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) CountSignIns(_ context.Context, userID points.UserID) (int, error) {
	s := m.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signIns), nil
}

func (m *Memory) LatestSignIn(_ context.Context, userID points.UserID) (*points.SignInEntry, error) {
	s := m.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(), nil
}
