/*
handlers.go - HTTP API handlers for the bookkeeping engine

PURPOSE:
  Exposes the books engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every decision to books.Engine.

ENDPOINTS:
  Transactions:
    POST   /api/transactions                      Post a transaction
    GET    /api/transactions/{id}                 Transaction with items and cheque

  Cheques:
    GET    /api/accounts/{id}/cheques/pending     Uncleared cheques
    POST   /api/cheques/{id}/clear                pending -> cleared
    POST   /api/cheques/{id}/cancel               pending -> cancelled

  Periods:
    GET    /api/accounts/{id}/period              Current open month
    POST   /api/accounts/{id}/periods/open        Open a month (backdated cascades)
    POST   /api/accounts/{id}/periods/close       Close the open month
    GET    /api/accounts/{id}/balances            Snapshots for ?month=&year=
    POST   /api/accounts/{id}/recalculate         Administrative cascade

  Balances:
    GET    /api/ledger-heads/{id}/balance         Running + computed balance

  Scenarios:
    GET    /api/scenarios                         List demo scenarios
    POST   /api/scenarios/load                    Load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Period closed / not open, cheque not pending, duplicates
  - 422: Account has no ledger heads
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/bookkeeping-engine/books"
	"github.com/warp/bookkeeping-engine/scenario"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *books.Engine
	Logger *slog.Logger
}

// NewHandler creates a new handler over the engine.
func NewHandler(engine *books.Engine) *Handler {
	return &Handler{Engine: engine, Logger: slog.Default()}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// PostTransaction validates and posts a transaction.
// POST /api/transactions
func (h *Handler) PostTransaction(w http.ResponseWriter, r *http.Request) {
	var req PostTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeEngineError(w, "Invalid transaction", err)
		return
	}

	res, err := h.Engine.PostTransaction(r.Context(), in)
	if err != nil {
		h.writeEngineError(w, "Failed to post transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, PostTransactionResponse{
		TransactionID: string(res.TransactionID),
		Status:        string(res.Status),
		ChequeID:      string(res.ChequeID),
	})
}

// GetTransaction returns one transaction.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := books.TransactionID(chi.URLParam(r, "id"))
	detail, err := h.Engine.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to get transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(detail))
}

// =============================================================================
// CHEQUES
// =============================================================================

// ListPendingCheques returns the account's pending cheques.
// GET /api/accounts/{id}/cheques/pending
func (h *Handler) ListPendingCheques(w http.ResponseWriter, r *http.Request) {
	accountID := books.AccountID(chi.URLParam(r, "id"))
	cheques, err := h.Engine.ListPendingCheques(r.Context(), accountID)
	if err != nil {
		h.writeEngineError(w, "Failed to list cheques", err)
		return
	}
	dtos := make([]ChequeDTO, len(cheques))
	for i, c := range cheques {
		dtos[i] = toChequeDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ClearCheque clears a pending cheque.
// POST /api/cheques/{id}/clear
func (h *Handler) ClearCheque(w http.ResponseWriter, r *http.Request) {
	var req ClearChequeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := parseDate("clearing_date", req.ClearingDate)
	if err != nil {
		h.writeEngineError(w, "Invalid clearing date", err)
		return
	}

	res, err := h.Engine.ClearCheque(r.Context(), books.ChequeID(chi.URLParam(r, "id")), date)
	if err != nil {
		h.writeEngineError(w, "Failed to clear cheque", err)
		return
	}
	writeJSON(w, http.StatusOK, ChequeStatusResponse{
		ChequeID:     string(res.ChequeID),
		Status:       string(res.Status),
		ClearingDate: formatDatePtr(res.ClearingDate),
	})
}

// CancelCheque cancels a pending cheque. The body is optional.
// POST /api/cheques/{id}/cancel
func (h *Handler) CancelCheque(w http.ResponseWriter, r *http.Request) {
	var req CancelChequeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	res, err := h.Engine.CancelCheque(r.Context(), books.ChequeID(chi.URLParam(r, "id")), req.Reason)
	if err != nil {
		h.writeEngineError(w, "Failed to cancel cheque", err)
		return
	}
	writeJSON(w, http.StatusOK, ChequeStatusResponse{ChequeID: string(res.ChequeID), Status: string(res.Status)})
}

// =============================================================================
// ACCOUNTS AND PERIODS
// =============================================================================

// GetAccount returns an account with its ledger heads.
// GET /api/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	view, err := h.Engine.GetAccount(r.Context(), books.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeEngineError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(view))
}

// GetOpenPeriod returns the open month, opening the current month for a
// fresh account.
// GET /api/accounts/{id}/period
func (h *Handler) GetOpenPeriod(w http.ResponseWriter, r *http.Request) {
	accountID := books.AccountID(chi.URLParam(r, "id"))
	month, err := h.Engine.GetOpenPeriod(r.Context(), accountID)
	if err != nil {
		h.writeEngineError(w, "Failed to get open period", err)
		return
	}
	writeJSON(w, http.StatusOK, PeriodDTO{AccountID: string(accountID), Month: int(month.Month), Year: month.Year})
}

// OpenPeriod opens a month for posting.
// POST /api/accounts/{id}/periods/open
func (h *Handler) OpenPeriod(w http.ResponseWriter, r *http.Request) {
	month, ok := decodePeriod(w, r)
	if !ok {
		return
	}
	res, err := h.Engine.OpenPeriod(r.Context(), books.AccountID(chi.URLParam(r, "id")), month)
	if err != nil {
		h.writeEngineError(w, "Failed to open period", err)
		return
	}
	writeJSON(w, http.StatusOK, OpenPeriodResponse{
		Opened:       res.Opened,
		Recalculated: res.Recalculated,
		Backdated:    res.Backdated,
		AlreadyOpen:  res.AlreadyOpen,
		FailedHeads:  toFailureDTOs(res.Failures),
	})
}

// ClosePeriod closes the open month.
// POST /api/accounts/{id}/periods/close
func (h *Handler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	month, ok := decodePeriod(w, r)
	if !ok {
		return
	}
	res, err := h.Engine.ClosePeriod(r.Context(), books.AccountID(chi.URLParam(r, "id")), month)
	if err != nil {
		h.writeEngineError(w, "Failed to close period", err)
		return
	}
	writeJSON(w, http.StatusOK, ClosePeriodResponse{
		Closed:         res.Closed,
		LastClosedDate: res.LastClosedDate.Format(dateLayout),
	})
}

// GetMonthlyBalances returns every head's snapshot for a month.
// GET /api/accounts/{id}/balances?month=6&year=2025
func (h *Handler) GetMonthlyBalances(w http.ResponseWriter, r *http.Request) {
	month, err := monthFromQuery(r)
	if err != nil {
		h.writeEngineError(w, "Invalid month", err)
		return
	}
	rows, err := h.Engine.GetMonthlyBalances(r.Context(), books.AccountID(chi.URLParam(r, "id")), month)
	if err != nil {
		h.writeEngineError(w, "Failed to get balances", err)
		return
	}
	dtos := make([]MonthlyBalanceDTO, len(rows))
	for i, b := range rows {
		dtos[i] = toMonthlyBalanceDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Recalculate runs the snapshot cascade from a date.
// POST /api/accounts/{id}/recalculate
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	from, err := parseDate("from", req.From)
	if err != nil {
		h.writeEngineError(w, "Invalid from date", err)
		return
	}

	res, err := h.Engine.Recalculate(r.Context(), books.AccountID(chi.URLParam(r, "id")), books.LedgerHeadID(req.LedgerHeadID), from)
	if err != nil {
		h.writeEngineError(w, "Failed to recalculate", err)
		return
	}
	writeJSON(w, http.StatusOK, RecalculateResponse{
		Updated:     len(res.Updated),
		FailedHeads: toFailureDTOs(res.Failures),
	})
}

// GetAudit returns the account's period audit entries, newest first.
// GET /api/accounts/{id}/audit?limit=50
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	entries, err := h.Engine.AuditTrail(r.Context(), books.AccountID(chi.URLParam(r, "id")), limit)
	if err != nil {
		h.writeEngineError(w, "Failed to get audit log", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:         e.ID,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Action:     string(e.Action),
			ActorID:    e.ActorID,
			Details:    e.Details,
			Timestamp:  e.Timestamp.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BALANCES
// =============================================================================

// GetLedgerHeadBalance returns the running balance and the balance computed
// from transactions in [from, to). to defaults to tomorrow, from to the
// beginning of history.
// GET /api/ledger-heads/{id}/balance?from=2025-01-01&to=2025-07-01
func (h *Handler) GetLedgerHeadBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := books.Day(time.Now()).AddDate(0, 0, 1)
	if s := q.Get("to"); s != "" {
		t, err := parseDate("to", s)
		if err != nil {
			h.writeEngineError(w, "Invalid to date", err)
			return
		}
		to = t
	}
	var from *time.Time
	if s := q.Get("from"); s != "" {
		t, err := parseDate("from", s)
		if err != nil {
			h.writeEngineError(w, "Invalid from date", err)
			return
		}
		from = &t
	}

	head, bal, err := h.Engine.GetLedgerHeadBalance(r.Context(), books.LedgerHeadID(chi.URLParam(r, "id")), from, to)
	if err != nil {
		h.writeEngineError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, LedgerHeadBalanceDTO{
		LedgerHeadID:   string(head.ID),
		AccountID:      string(head.AccountID),
		Name:           head.Name,
		HeadType:       string(head.HeadType),
		CurrentBalance: head.CurrentBalance,
		CashBalance:    head.CashBalance,
		BankBalance:    head.BankBalance,
		From:           formatDatePtr(from),
		To:             to.Format(dateLayout),
		Computed:       BalanceDTO{Total: bal.Total, Cash: bal.Cash, Bank: bal.Bank},
	})
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	list, err := scenario.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list scenarios", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// LoadScenario resets the store and loads a demo scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, err := scenario.Get(req.ScenarioID)
	if err != nil {
		h.writeEngineError(w, "Unknown scenario", err)
		return
	}

	res, err := scenario.Load(r.Context(), h.Engine, s, true)
	if err != nil {
		h.writeEngineError(w, "Failed to load scenario", err)
		return
	}

	accounts := make(map[string]string, len(res.Accounts))
	for key, id := range res.Accounts {
		accounts[key] = string(id)
	}
	h.logger().Info("scenario loaded", "scenario_id", s.ID, "accounts", len(accounts))
	writeJSON(w, http.StatusOK, LoadScenarioResponse{ScenarioID: s.ID, Accounts: accounts})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodePeriod(w http.ResponseWriter, r *http.Request) (books.Month, bool) {
	var req PeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return books.Month{}, false
	}
	month, err := books.ParseMonth(req.Month, req.Year)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return books.Month{}, false
	}
	return month, true
}

func monthFromQuery(r *http.Request) (books.Month, error) {
	q := r.URL.Query()
	month, err := strconv.Atoi(q.Get("month"))
	if err != nil {
		return books.Month{}, &books.ValidationError{Field: "month", Message: "query parameter month is required"}
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		return books.Month{}, &books.ValidationError{Field: "year", Message: "query parameter year is required"}
	}
	return books.ParseMonth(month, year)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case books.IsClientError(err):
		return http.StatusBadRequest
	case books.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, books.ErrNoLedgerHeads):
		return http.StatusUnprocessableEntity
	case books.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger().Error(message, "error", err)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
