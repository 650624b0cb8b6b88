/*
handlers.go - HTTP API handlers for the points service

PURPOSE:
  Exposes the ledger, sign-in, AI check and carousel services over REST.
  Handlers parse and validate input, delegate to the domain services and
  map domain errors to HTTP status codes. They hold no business rules.

ENDPOINTS:
  Points:
    GET    /api/points                 Account with level progress
    GET    /api/points/records         Paged record log (?type=all|earn|spend&page=&pageSize=)
    GET    /api/points/statistics      Totals and daily series (?from=&to=, YYYY-MM-DD)

  Sign-in:
    POST   /api/signin                 Sign in for today
    GET    /api/signin/status          Streak, reward preview, calendars

  AI checks:
    GET    /api/models                 Priced model list
    GET    /api/check/quote            Price content without running (?modelId=&length=)
    POST   /api/check                  Run and charge a check
    GET    /api/check/history          Past checks with total (?offset=&limit=)
    GET    /api/check/history/{id}     One past check
    DELETE /api/check/history/{id}     Hide a past check (ledger record is kept)

  Carousels:
    GET    /api/carousels              Active banners
    GET    /api/carousels/{id}         One banner
    POST   /api/carousels/{id}/view    Count a view (async)
    POST   /api/carousels/{id}/click   Count a click (async)

  Admin (X-Admin-Token):
    POST   /api/admin/adjustments      Manual balance change
    GET    /api/admin/carousels        All banners
    POST   /api/admin/carousels        Create banner
    PUT    /api/admin/carousels/{id}   Update banner

ERROR HANDLING:
  - 400: Invalid input, invalid amount, invalid date range
  - 401: Missing or invalid identity / admin token
  - 404: Unknown model, carousel or check history
  - 409: Already signed in today
  - 422: Insufficient balance
  - 429: Rate limited
  - 502: AI provider failed or timed out
  - 500: Everything else (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/wordcheck/points-engine/carousel"
	"github.com/wordcheck/points-engine/points"
	"github.com/wordcheck/points-engine/signin"
	"github.com/wordcheck/points-engine/usage"
)

// maxBodyBytes bounds request bodies; check content is the largest.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *points.Ledger
	Tracker   *signin.Tracker
	Usage     *usage.Service
	Carousels *carousel.Service
	Log       *slog.Logger

	validate *validator.Validate
}

// NewHandler creates a handler over the given services.
func NewHandler(ledger *points.Ledger, tracker *signin.Tracker, usageSvc *usage.Service, carousels *carousel.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Ledger:    ledger,
		Tracker:   tracker,
		Usage:     usageSvc,
		Carousels: carousels,
		Log:       log,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// POINTS ENDPOINTS
// =============================================================================

// GetAccount returns the caller's account.
// GET /api/points
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Ledger.GetAccount(r.Context(), userID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// ListRecords returns one page of the caller's records.
// GET /api/points/records
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, ok := points.ParseRecordFilter(q.Get("type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid record type", fmt.Errorf("type must be all, earn or spend"))
		return
	}
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	size, err := intParam(q.Get("pageSize"), 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page size", err)
		return
	}

	result, err := h.Ledger.ListRecords(r.Context(), userID(r), points.RecordQuery{
		Filter:   filter,
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStatistics returns totals and a daily series. Defaults to the last 7 days.
// GET /api/points/statistics
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	today := points.DayOf(h.Ledger.Now(), h.Ledger.Location())
	from, to := today.AddDays(-6), today

	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		d, err := points.ParseDay(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date", err)
			return
		}
		from = d
	}
	if s := q.Get("to"); s != "" {
		d, err := points.ParseDay(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date", err)
			return
		}
		to = d
	}

	stats, err := h.Ledger.Statistics(r.Context(), userID(r), from, to)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// CreateAdjustment applies a manual credit or debit.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	acct, rec, err := h.Ledger.Adjust(r.Context(), points.UserID(req.UserID), req.Delta, points.Entry{
		Reason:   req.Reason,
		Category: points.CategoryAdminAdjust,
		Remark:   req.Remark,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.Log.InfoContext(r.Context(), "admin adjustment",
		slog.Int64("user_id", req.UserID),
		slog.Int64("delta", req.Delta),
		slog.Int64("record_id", rec.ID))
	writeJSON(w, http.StatusCreated, MutationDTO{Account: toAccountDTO(acct), Record: rec})
}

// =============================================================================
// SIGN-IN ENDPOINTS
// =============================================================================

// SignIn records today's sign-in.
// POST /api/signin
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	res, err := h.Tracker.SignIn(r.Context(), userID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SignInDTO{
		Date:           res.Entry.Date,
		PointsAwarded:  res.Entry.PointsAwarded,
		ContinuousDays: res.Entry.ContinuousDays,
		TotalSignDays:  res.TotalSignDays,
		Account:        toAccountDTO(res.Account),
		RecordID:       res.Record.ID,
	})
}

// GetSignInStatus returns the caller's sign-in state.
// GET /api/signin/status
func (h *Handler) GetSignInStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Tracker.GetStatus(r.Context(), userID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// =============================================================================
// AI CHECK ENDPOINTS
// =============================================================================

// ListModels returns the priced model table.
// GET /api/models
func (h *Handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	models := h.Usage.Models()
	dtos := make([]ModelDTO, 0, len(models))
	for _, m := range models {
		dtos = append(dtos, toModelDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// QuoteCheck prices content of a given length.
// GET /api/check/quote?modelId=&length=
func (h *Handler) QuoteCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	length, err := intParam(q.Get("length"), 0)
	if err != nil || length < 0 {
		writeError(w, http.StatusBadRequest, "Invalid length", err)
		return
	}
	m, err := h.Usage.Model(q.Get("modelId"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage.Quote{
		ModelID:       m.ID,
		ContentLength: length,
		Cost:          points.Cost(length, m.Pricing),
	})
}

// Check runs a charged AI check.
// POST /api/check
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	res, err := h.Usage.Check(r.Context(), userID(r), usage.CheckRequest{
		ModelID:   req.ModelID,
		Content:   req.Content,
		CheckType: req.CheckType,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckDTO{
		HistoryID:  res.History.ID,
		Result:     res.History.Result,
		PointsCost: res.History.PointsCost,
		Account:    toAccountDTO(res.Account),
		RecordID:   res.Record.ID,
	})
}

// ListCheckHistory returns the caller's past checks.
// GET /api/check/history
func (h *Handler) ListCheckHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}
	limit, err := intParam(q.Get("limit"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	page, err := h.Usage.History(r.Context(), userID(r), offset, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetCheckHistory returns one of the caller's checks.
// GET /api/check/history/{id}
func (h *Handler) GetCheckHistory(w http.ResponseWriter, r *http.Request) {
	row, err := h.Usage.GetHistory(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// DeleteCheckHistory hides one of the caller's checks. The ledger record that
// paid for it is kept.
// DELETE /api/check/history/{id}
func (h *Handler) DeleteCheckHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.Usage.DeleteHistory(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CAROUSEL ENDPOINTS
// =============================================================================

// ListCarousels returns the active banners.
// GET /api/carousels
func (h *Handler) ListCarousels(w http.ResponseWriter, r *http.Request) {
	list, err := h.Carousels.Active(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetCarousel returns one banner.
// GET /api/carousels/{id}
func (h *Handler) GetCarousel(w http.ResponseWriter, r *http.Request) {
	id, ok := carouselID(w, r)
	if !ok {
		return
	}
	c, err := h.Carousels.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RecordCarouselView counts a view.
// POST /api/carousels/{id}/view
func (h *Handler) RecordCarouselView(w http.ResponseWriter, r *http.Request) {
	id, ok := carouselID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": h.Carousels.RecordView(id)})
}

// RecordCarouselClick counts a click.
// POST /api/carousels/{id}/click
func (h *Handler) RecordCarouselClick(w http.ResponseWriter, r *http.Request) {
	id, ok := carouselID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": h.Carousels.RecordClick(id)})
}

// ListAllCarousels returns every banner.
// GET /api/admin/carousels
func (h *Handler) ListAllCarousels(w http.ResponseWriter, r *http.Request) {
	list, err := h.Carousels.All(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []carousel.Carousel{}
	}
	writeJSON(w, http.StatusOK, list)
}

// SaveCarousel creates (POST) or updates (PUT /{id}) a banner.
func (h *Handler) SaveCarousel(w http.ResponseWriter, r *http.Request) {
	var id int64
	if chi.URLParam(r, "id") != "" {
		var ok bool
		if id, ok = carouselID(w, r); !ok {
			return
		}
	}

	var req CarouselRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	saved, err := h.Carousels.Save(r.Context(), req.toCarousel(id))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if id == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

// =============================================================================
// HELPERS
// =============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a service error to its HTTP status. Unexpected
// errors are logged with the request's correlation id and hidden from the
// client.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ibe *points.InsufficientBalanceError
		ase *points.AlreadySignedError
	)
	switch {
	case errors.As(err, &ibe):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Insufficient balance",
			Code:    "insufficient_balance",
			Details: fmt.Sprintf("available %d, required %d", ibe.Available, ibe.Requested),
		})
	case errors.As(err, &ase):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Already signed in today",
			Code:    "already_signed",
			Details: ase.Date.String(),
		})
	case errors.Is(err, points.ErrInvalidAmount):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid amount", Code: "invalid_amount", Details: err.Error()})
	case errors.Is(err, points.ErrInvalidRange):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid date range", Code: "invalid_range", Details: err.Error()})
	case errors.Is(err, usage.ErrEmptyContent):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Content is empty", Code: "empty_content"})
	case errors.Is(err, usage.ErrUnknownModel):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Unknown model", Code: "unknown_model", Details: err.Error()})
	case errors.Is(err, carousel.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid carousel", Code: "invalid_carousel", Details: err.Error()})
	case errors.Is(err, carousel.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Carousel not found", Code: "not_found"})
	case errors.Is(err, usage.ErrHistoryNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Check history not found", Code: "not_found"})
	case errors.Is(err, usage.ErrProviderFailed):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "AI provider unavailable", Code: "provider_failed"})
	default:
		h.Log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Code: "system"})
	}
}

// decodeJSON decodes and validates a request body, writing 400 on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func intParam(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func carouselID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid carousel id", err)
		return 0, false
	}
	return id, true
}
