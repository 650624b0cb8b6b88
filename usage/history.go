package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wordcheck/points-engine/points"
)

// History is one AI check a user ran. The ledger record charging for it
// points back here through BusinessRef{Type: HistoryBusinessType, ID: History.ID}.
type History struct {
	ID            string        `json:"id"`
	UserID        points.UserID `json:"userId"`
	ModelID       string        `json:"modelId"`
	CheckType     string        `json:"checkType"`
	Content       string        `json:"content"`
	Result        string        `json:"result"`
	ContentLength int           `json:"contentLength"`
	PointsCost    int64         `json:"pointsCost"`
	Charged       bool          `json:"charged"`
	RecordID      int64         `json:"recordId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// ErrHistoryNotFound is returned when no history row has the given id, when
// the row belongs to another user, or when it was deleted.
var ErrHistoryNotFound = errors.New("history not found")

// HistoryStore persists check history. store/sqlite and store/postgres
// implement it.
//
// Deletion is soft: a deleted row disappears from Get, List and Count but stays
// stored, so the ledger record that charged for it still resolves its
// BusinessRef.
type HistoryStore interface {
	SaveHistory(ctx context.Context, h History) error
	MarkCharged(ctx context.Context, id string, recordID int64) error
	// ListHistory returns the user's checks, newest first.
	ListHistory(ctx context.Context, userID points.UserID, offset, limit int) ([]History, error)
	CountHistory(ctx context.Context, userID points.UserID) (int, error)
	GetHistory(ctx context.Context, userID points.UserID, id string) (History, error)
	DeleteHistory(ctx context.Context, userID points.UserID, id string) error
}

// MemoryHistory is an in-process HistoryStore (for tests/dev).
type MemoryHistory struct {
	mu      sync.RWMutex
	rows    []History
	deleted map[string]bool
}

// NewMemoryHistory creates an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{deleted: make(map[string]bool)}
}

func (m *MemoryHistory) SaveHistory(_ context.Context, h History) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, h)
	return nil
}

func (m *MemoryHistory) MarkCharged(_ context.Context, id string, recordID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			m.rows[i].Charged = true
			m.rows[i].RecordID = recordID
			return nil
		}
	}
	return ErrHistoryNotFound
}

func (m *MemoryHistory) ListHistory(_ context.Context, userID points.UserID, offset, limit int) ([]History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []History
	skipped := 0
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if !m.visible(m.rows[i], userID) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, m.rows[i])
	}
	return out, nil
}

func (m *MemoryHistory) CountHistory(_ context.Context, userID points.UserID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, h := range m.rows {
		if m.visible(h, userID) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryHistory) GetHistory(_ context.Context, userID points.UserID, id string) (History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, h := range m.rows {
		if h.ID == id && m.visible(h, userID) {
			return h, nil
		}
	}
	return History{}, ErrHistoryNotFound
}

func (m *MemoryHistory) DeleteHistory(_ context.Context, userID points.UserID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.rows {
		if h.ID == id && m.visible(h, userID) {
			m.deleted[id] = true
			return nil
		}
	}
	return ErrHistoryNotFound
}

// visible reports whether h belongs to userID and is not deleted. Callers hold mu.
func (m *MemoryHistory) visible(h History, userID points.UserID) bool {
	return h.UserID == userID && !m.deleted[h.ID]
}
