/*
service.go - Charging points for AI checks

PURPOSE:
  A check costs points according to the chosen model's pricing and the
  length of the content. The flow is:

  1. Resolve the model and price the content (length counted in runes)
  2. Refuse early if the balance cannot cover the cost
  3. Call the provider under the model's timeout
  4. Save the history row
  5. Debit the ledger, referencing the history row
  6. Flag the history row as charged

  The provider runs outside any ledger lock. The balance may drop while it
  runs, so step 5 can still fail with InsufficientBalanceError; the history
  row then stays uncharged and the error is returned.

SEE ALSO:
  - points/cost.go: Pricing formula
  - factory/model.go: Builds Model tables from JSON
*/
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/wordcheck/points-engine/points"
)

// HistoryBusinessType is the BusinessRef.Type of usage charges.
const HistoryBusinessType = "check_history"

// CheckRequest is one user request to run a check.
type CheckRequest struct {
	ModelID   string `json:"modelId"`
	Content   string `json:"content"`
	CheckType string `json:"checkType"`
}

// CheckResult is the outcome of a charged check.
type CheckResult struct {
	History History                  `json:"history"`
	Account points.Account           `json:"account"`
	Record  points.TransactionRecord `json:"record"`
}

// Quote is the price of content under a model, without running anything.
type Quote struct {
	ModelID       string `json:"modelId"`
	ContentLength int    `json:"contentLength"`
	Cost          int64  `json:"cost"`
}

// Service runs and charges AI checks.
type Service struct {
	ledger    *points.Ledger
	completer Completer
	histories HistoryStore
	log       *slog.Logger
	models    atomic.Pointer[map[string]Model]
}

// NewService creates a Service. models may be swapped later with SetModels.
func NewService(ledger *points.Ledger, completer Completer, histories HistoryStore, log *slog.Logger, models []Model) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{ledger: ledger, completer: completer, histories: histories, log: log}
	s.SetModels(models)
	return s
}

// SetModels replaces the model table. In-flight checks keep the model they resolved.
func (s *Service) SetModels(models []Model) {
	table := make(map[string]Model, len(models))
	for _, m := range models {
		m.Pricing = m.Pricing.Normalize()
		if m.Timeout <= 0 {
			m.Timeout = DefaultTimeout
		}
		table[m.ID] = m
	}
	s.models.Store(&table)
}

// Models returns the configured models sorted by id.
func (s *Service) Models() []Model {
	table := *s.models.Load()
	out := make([]Model, 0, len(table))
	for _, m := range table {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Model) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Model returns a configured model by id.
func (s *Service) Model(id string) (Model, error) {
	m, ok := (*s.models.Load())[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	return m, nil
}

// Quote prices content without checking balance or calling the provider.
func (s *Service) Quote(modelID, content string) (Quote, error) {
	m, err := s.Model(modelID)
	if err != nil {
		return Quote{}, err
	}
	n := utf8.RuneCountInString(content)
	return Quote{ModelID: m.ID, ContentLength: n, Cost: points.Cost(n, m.Pricing)}, nil
}

// Check runs the request and charges the user for it.
func (s *Service) Check(ctx context.Context, userID points.UserID, req CheckRequest) (CheckResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return CheckResult{}, ErrEmptyContent
	}
	model, err := s.Model(req.ModelID)
	if err != nil {
		return CheckResult{}, err
	}
	length := utf8.RuneCountInString(req.Content)
	cost := points.Cost(length, model.Pricing)

	acct, err := s.ledger.GetAccount(ctx, userID)
	if err != nil {
		return CheckResult{}, err
	}
	if acct.CurrentPoints < cost {
		return CheckResult{}, &points.InsufficientBalanceError{
			UserID:    userID,
			Available: acct.CurrentPoints,
			Requested: cost,
			Shortfall: cost - acct.CurrentPoints,
		}
	}

	reply, err := s.complete(ctx, model, req)
	if err != nil {
		s.log.Warn("ai check failed",
			slog.String("user_id", userID.String()),
			slog.String("model", model.ID),
			slog.Any("error", err))
		return CheckResult{}, err
	}

	h := History{
		ID:            uuid.NewString(),
		UserID:        userID,
		ModelID:       model.ID,
		CheckType:     req.CheckType,
		Content:       req.Content,
		Result:        reply,
		ContentLength: length,
		PointsCost:    cost,
		CreatedAt:     s.ledger.Now(),
	}
	if err := s.histories.SaveHistory(ctx, h); err != nil {
		return CheckResult{}, &points.SystemError{Op: "save check history", UserID: userID, Err: err}
	}

	acct, rec, err := s.ledger.Debit(ctx, userID, cost, points.Entry{
		Reason:   "AI check: " + model.Name,
		Category: points.CategoryAIUsage,
		Ref:      points.BusinessRef{Type: HistoryBusinessType, ID: h.ID},
		Remark:   fmt.Sprintf("%d characters", length),
	})
	if err != nil {
		return CheckResult{}, err
	}

	if err := s.histories.MarkCharged(ctx, h.ID, rec.ID); err != nil {
		s.log.Warn("mark history charged",
			slog.String("history_id", h.ID),
			slog.Int64("record_id", rec.ID),
			slog.Any("error", err))
	} else {
		h.Charged = true
		h.RecordID = rec.ID
	}
	return CheckResult{History: h, Account: acct, Record: rec}, nil
}

func (s *Service) complete(ctx context.Context, m Model, req CheckRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := s.completer.Complete(ctx, Prompt{
		Provider:  m.Provider,
		Model:     m.ID,
		CheckType: req.CheckType,
		Content:   req.Content,
	})
	if err != nil {
		if errors.Is(err, ErrProviderFailed) {
			return "", err
		}
		return "", &ProviderError{Provider: m.Provider, Message: err.Error()}
	}
	s.log.Debug("ai check completed",
		slog.String("model", m.ID),
		slog.Duration("elapsed", time.Since(start)))
	return reply, nil
}

// HistoryPage is one page of a user's checks and the total across pages.
type HistoryPage struct {
	Items  []History `json:"items"`
	Total  int       `json:"total"`
	Offset int       `json:"offset"`
	Limit  int       `json:"limit"`
}

// History returns a page of the user's checks, newest first.
func (s *Service) History(ctx context.Context, userID points.UserID, offset, limit int) (HistoryPage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.histories.ListHistory(ctx, userID, offset, limit)
	if err != nil {
		return HistoryPage{}, &points.SystemError{Op: "list check history", UserID: userID, Err: err}
	}
	total, err := s.histories.CountHistory(ctx, userID)
	if err != nil {
		return HistoryPage{}, &points.SystemError{Op: "count check history", UserID: userID, Err: err}
	}
	if items == nil {
		items = []History{}
	}
	return HistoryPage{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

// GetHistory returns one of the user's checks. Another user's check is
// ErrHistoryNotFound, not a permission error, so it does not reveal that the id exists.
func (s *Service) GetHistory(ctx context.Context, userID points.UserID, id string) (History, error) {
	h, err := s.histories.GetHistory(ctx, userID, id)
	if err != nil {
		return History{}, historyError("get check history", userID, err)
	}
	return h, nil
}

// DeleteHistory hides one of the user's checks. The ledger record that paid
// for it is untouched.
func (s *Service) DeleteHistory(ctx context.Context, userID points.UserID, id string) error {
	if err := s.histories.DeleteHistory(ctx, userID, id); err != nil {
		return historyError("delete check history", userID, err)
	}
	s.log.Info("check history deleted",
		slog.String("user_id", userID.String()),
		slog.String("history_id", id))
	return nil
}

func historyError(op string, userID points.UserID, err error) error {
	if errors.Is(err, ErrHistoryNotFound) {
		return err
	}
	return &points.SystemError{Op: op, UserID: userID, Err: err}
}
