/*
handlers_test.go - HTTP tests for the points API

Tests drive the full router over an in-memory store with a fixed clock and
a stub AI completer.
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wordcheck/points-engine/cache"
	"github.com/wordcheck/points-engine/carousel"
	"github.com/wordcheck/points-engine/logging"
	"github.com/wordcheck/points-engine/points"
	"github.com/wordcheck/points-engine/signin"
	"github.com/wordcheck/points-engine/store/memory"
	"github.com/wordcheck/points-engine/store/sqlite"
	"github.com/wordcheck/points-engine/tasks"
	"github.com/wordcheck/points-engine/usage"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testAdminToken = "admin-secret"

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, points.DefaultLocation)

type testServer struct {
	router  http.Handler
	ledger  *points.Ledger
	limiter *RateLimiter
	reply   func() (string, error)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logging.Discard()
	clock := func() time.Time { return fixedNow }

	store := memory.NewMemory()
	ledger := points.NewLedger(store, points.WithLogger(log), points.WithClock(clock))
	tracker := signin.NewTracker(ledger, store, signin.WithLogger(log))

	ts := &testServer{ledger: ledger, reply: func() (string, error) { return "all good", nil }}
	completer := usage.CompleterFunc(func(context.Context, usage.Prompt) (string, error) { return ts.reply() })
	usageSvc := usage.NewService(ledger, completer, usage.NewMemoryHistory(), log, []usage.Model{
		{ID: "quick", Name: "Quick", Provider: "stub"},
	})

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	dispatcher := tasks.NewDispatcher(log, tasks.Config{Workers: 1, QueueSize: 8})
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })
	mem := cache.NewMemory(nil)
	t.Cleanup(mem.Close)
	carousels := carousel.NewService(db, mem, dispatcher, log)

	ts.limiter = NewRateLimiter(1000, 1000, log)
	h := NewHandler(ledger, tracker, usageSvc, carousels, log)
	ts.router = NewRouter(h, RouterOptions{AdminToken: testAdminToken, Limiter: ts.limiter})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, user points.UserID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	if user > 0 {
		req.Header.Set(UserIDHeader, user.String())
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set(AdminTokenHeader, testAdminToken)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// AUTH
// =============================================================================

func TestAPI_RequiresUserID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/points", 0, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_AdminRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/adjustments", 1, AdjustmentRequest{UserID: 1, Delta: 5, Reason: "x"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// POINTS
// =============================================================================

func TestAPI_GetAccount_LazyCreate(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/points", 7, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, float64(7), got["userId"])
	assert.Equal(t, float64(0), got["currentPoints"])
	assert.Equal(t, "Beginner", got["levelName"])
	assert.Equal(t, "0", got["levelProgress"])
}

func TestAPI_AdminAdjustment_ThenRecords(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: A credit and a debit by the administrator
	rec := ts.admin(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{UserID: 3, Delta: 250, Reason: "launch bonus"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = ts.admin(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{UserID: 3, Delta: -50, Reason: "correction"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	mut := decode[MutationDTO](t, rec)
	assert.Equal(t, int64(200), mut.Account.CurrentPoints)
	assert.Equal(t, 2, mut.Account.Level)
	assert.Equal(t, points.CategoryAdminAdjust, mut.Record.Category)

	// WHEN: The user lists spend records
	rec = ts.do(t, http.MethodGet, "/api/points/records?type=spend", 3, nil)

	// THEN: Only the debit is returned
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[points.RecordPage](t, rec)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, int64(-50), page.Records[0].Delta)
}

func TestAPI_AdminAdjustment_Overdraw(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{UserID: 3, Delta: -1, Reason: "oops"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_balance", decode[ErrorResponse](t, rec).Code)
}

func TestAPI_AdminAdjustment_Validation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(t, http.MethodPost, "/api/admin/adjustments", map[string]any{"userId": 3, "delta": 0, "reason": "zero"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.admin(t, http.MethodPost, "/api/admin/adjustments", map[string]any{"userId": 3, "delta": 5, "reason": "x", "extra": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Records_BadType(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/points/records?type=gift", 1, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Statistics(t *testing.T) {
	ts := newTestServer(t)
	_, _, err := ts.ledger.Credit(context.Background(), 1, 30, points.Entry{Reason: "task", Category: points.CategoryTask})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/points/statistics", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[points.Statistics](t, rec)
	assert.Equal(t, int64(30), stats.TodayEarned)
	assert.Len(t, stats.Daily, 7)

	rec = ts.do(t, http.MethodGet, "/api/points/statistics?from=2025-03-10&to=2025-03-01", 1, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_range", decode[ErrorResponse](t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/points/statistics?from=yesterday", 1, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// SIGN-IN
// =============================================================================

func TestAPI_SignIn_OncePerDay(t *testing.T) {
	ts := newTestServer(t)

	// WHEN: Signing in twice
	first := ts.do(t, http.MethodPost, "/api/signin", 5, nil)
	second := ts.do(t, http.MethodPost, "/api/signin", 5, nil)

	// THEN: The first is rewarded, the second conflicts
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	got := decode[SignInDTO](t, first)
	assert.Equal(t, int64(5), got.PointsAwarded)
	assert.Equal(t, 1, got.ContinuousDays)
	assert.Equal(t, "2025-03-10", got.Date.String())

	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "already_signed", decode[ErrorResponse](t, second).Code)

	status := decode[signin.Status](t, ts.do(t, http.MethodGet, "/api/signin/status", 5, nil))
	assert.True(t, status.SignedToday)
	assert.True(t, status.Week[0]) // 2025-03-10 is a Monday
	assert.Len(t, status.Month, 31)
}

// =============================================================================
// AI CHECKS
// =============================================================================

func TestAPI_Check(t *testing.T) {
	ts := newTestServer(t)
	_, _, err := ts.ledger.Credit(context.Background(), 1, 10, points.Entry{Reason: "grant", Category: points.CategorySystemGrant})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/check", 1, CheckRequest{ModelID: "quick", Content: "some text"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[CheckDTO](t, rec)
	assert.Equal(t, "all good", got.Result)
	assert.Equal(t, int64(3), got.PointsCost)
	assert.Equal(t, int64(7), got.Account.CurrentPoints)

	history := decode[usage.HistoryPage](t, ts.do(t, http.MethodGet, "/api/check/history", 1, nil))
	assert.Equal(t, 1, history.Total)
	require.Len(t, history.Items, 1)
	assert.Equal(t, got.HistoryID, history.Items[0].ID)
}

func TestAPI_CheckHistory_GetAndDelete(t *testing.T) {
	ts := newTestServer(t)
	_, _, err := ts.ledger.Credit(context.Background(), 1, 10, points.Entry{Reason: "grant", Category: points.CategorySystemGrant})
	require.NoError(t, err)
	rec := ts.do(t, http.MethodPost, "/api/check", 1, CheckRequest{ModelID: "quick", Content: "some text"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	check := decode[CheckDTO](t, rec)
	path := "/api/check/history/" + check.HistoryID

	// THEN: The owner can read it; another user gets 404
	rec = ts.do(t, http.MethodGet, path, 1, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "all good", decode[usage.History](t, rec).Result)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, 2, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, path, 2, nil).Code)

	// WHEN: The owner deletes it
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, path, 1, nil).Code)

	// THEN: It is gone from the item and list routes, the charge stays in the log
	rec = ts.do(t, http.MethodGet, path, 1, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, path, 1, nil).Code)

	page := decode[usage.HistoryPage](t, ts.do(t, http.MethodGet, "/api/check/history", 1, nil))
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Items)

	records := decode[points.RecordPage](t, ts.do(t, http.MethodGet, "/api/points/records?type=spend", 1, nil))
	require.Len(t, records.Records, 1)
	assert.Equal(t, check.HistoryID, records.Records[0].Ref.ID)
}

func TestAPI_Check_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		fund   int64
		req    CheckRequest
		reply  error
		status int
	}{
		{"unknown model", 10, CheckRequest{ModelID: "nope", Content: "x"}, nil, http.StatusNotFound},
		{"insufficient", 1, CheckRequest{ModelID: "quick", Content: "x"}, nil, http.StatusUnprocessableEntity},
		{"provider down", 10, CheckRequest{ModelID: "quick", Content: "x"}, errors.New("down"), http.StatusBadGateway},
		{"blank content", 10, CheckRequest{ModelID: "quick", Content: "   "}, nil, http.StatusBadRequest},
		{"missing model", 10, CheckRequest{Content: "x"}, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			_, _, err := ts.ledger.Credit(context.Background(), 1, tt.fund, points.Entry{Reason: "grant"})
			require.NoError(t, err)
			ts.reply = func() (string, error) { return "ok", tt.reply }

			rec := ts.do(t, http.MethodPost, "/api/check", 1, tt.req)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAPI_ModelsAndQuote(t *testing.T) {
	ts := newTestServer(t)

	models := decode[[]ModelDTO](t, ts.do(t, http.MethodGet, "/api/models", 1, nil))
	require.Len(t, models, 1)
	assert.Equal(t, 60, models[0].Timeout)

	quote := decode[usage.Quote](t, ts.do(t, http.MethodGet, "/api/check/quote?modelId=quick&length=5000", 1, nil))
	assert.Equal(t, int64(3), quote.Cost)
}

// =============================================================================
// CAROUSELS
// =============================================================================

func TestAPI_Carousels(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(t, http.MethodPost, "/api/admin/carousels", CarouselRequest{
		Title: "Spring", ImageURL: "https://cdn.example.com/a.png", Enabled: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[carousel.Carousel](t, rec)

	list := decode[[]carousel.Carousel](t, ts.do(t, http.MethodGet, "/api/carousels", 1, nil))
	require.Len(t, list, 1)
	assert.Equal(t, "Spring", list[0].Title)

	rec = ts.do(t, http.MethodPost, "/api/carousels/"+itoa(created.ID)+"/view", 1, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/carousels/999", 1, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/carousels/abc", 1, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.admin(t, http.MethodPut, "/api/admin/carousels/"+itoa(created.ID), CarouselRequest{
		Title: "Mini", ImageURL: "https://cdn.example.com/b.png", LinkType: "miniprogram",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// RATE LIMIT + HEALTH
// =============================================================================

func TestAPI_RateLimited(t *testing.T) {
	ts := newTestServer(t)
	ts.limiter.Rate = 0.001
	ts.limiter.Burst = 1

	first := ts.do(t, http.MethodGet, "/api/models", 9, nil)
	second := ts.do(t, http.MethodGet, "/api/models", 9, nil)
	other := ts.do(t, http.MethodGet, "/api/models", 10, nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	now := fixedNow
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(5 * time.Minute)
	rl.Allow("b")
	now = now.Add(6 * time.Minute)

	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 0, rl.Sweep())

	rl.SweepInterval = time.Millisecond
	rl.Start()
	rl.Stop()
}

func TestAPI_Healthz(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/healthz", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewRouter(NewHandler(nil, nil, nil, nil, nil), RouterOptions{
		Ping: func(context.Context) error { return errors.New("db gone") },
	})
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "db gone"))
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
