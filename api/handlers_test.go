/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Transaction posting, lookup and error status mapping
- Cheque clear and cancel over HTTP
- Period open/close and monthly balances
- Actor attribution via X-Actor-ID
- Scenario listing and loading
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookkeeping-engine/books"
	"github.com/warp/bookkeeping-engine/store/sqlite"
)

type testServer struct {
	t       *testing.T
	router  http.Handler
	engine  *books.Engine
	account string
	head    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := books.NewEngine(store)
	engine.Now = func() time.Time { return books.Date(2025, time.June, 20) }

	ctx := context.Background()
	acct, err := engine.CreateAccount(ctx, "General Fund")
	require.NoError(t, err)
	head, err := engine.CreateLedgerHead(ctx, acct.ID, "Donations", books.HeadCredit)
	require.NoError(t, err)

	return &testServer{
		t:       t,
		router:  NewRouter(NewHandler(engine), nil),
		engine:  engine,
		account: string(acct.ID),
		head:    string(head.ID),
	}
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) postTx(req PostTransactionRequest) *httptest.ResponseRecorder {
	s.t.Helper()
	if req.AccountID == "" {
		req.AccountID = s.account
	}
	if req.LedgerHeadID == "" {
		req.LedgerHeadID = s.head
	}
	return s.do(http.MethodPost, "/api/transactions", req)
}

func cashCredit(amount int64, date string) PostTransactionRequest {
	return PostTransactionRequest{
		Amount:   decimal.NewFromInt(amount),
		TxType:   "credit",
		CashType: "cash",
		TxDate:   date,
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestPostTransaction_Created(t *testing.T) {
	s := newTestServer(t)

	rec := s.postTx(cashCredit(1000, "2025-06-03"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[PostTransactionResponse](t, rec)
	assert.Equal(t, "completed", created.Status)

	rec = s.do(http.MethodGet, "/api/transactions/"+created.TransactionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tx := decode[TransactionDTO](t, rec)
	assert.Equal(t, "2025-06-03", tx.TxDate)
	assert.True(t, tx.CashAmount.Equal(decimal.NewFromInt(1000)))
	assert.Nil(t, tx.Cheque)

	rec = s.do(http.MethodGet, "/api/ledger-heads/"+s.head+"/balance?to=2025-07-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[LedgerHeadBalanceDTO](t, rec)
	assert.True(t, bal.CurrentBalance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, bal.Computed.Total.Equal(bal.CurrentBalance))
}

func TestPostTransaction_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.postTx(cashCredit(10, "2025-06-01")).Code)

	other, err := s.engine.CreateAccount(context.Background(), "Building Fund")
	require.NoError(t, err)

	tests := []struct {
		name string
		req  PostTransactionRequest
		want int
	}{
		{"zero amount", PostTransactionRequest{TxType: "credit", CashType: "cash", TxDate: "2025-06-02"}, http.StatusBadRequest},
		{"bad date", cashCredit(10, "06/02/2025"), http.StatusBadRequest},
		{"closed month", cashCredit(10, "2025-05-31"), http.StatusConflict},
		{"future month", cashCredit(10, "2025-07-01"), http.StatusConflict},
		{"unknown head", func() PostTransactionRequest {
			r := cashCredit(10, "2025-06-02")
			r.LedgerHeadID = "missing"
			return r
		}(), http.StatusNotFound},
		{"head of another account", func() PostTransactionRequest {
			r := cashCredit(10, "2025-06-02")
			r.AccountID = string(other.ID)
			return r
		}(), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.postTx(tt.req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	rec := s.do(http.MethodPost, "/api/transactions", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty body")
}

func TestGetTransaction_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/transactions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CHEQUES
// =============================================================================

func TestCheque_ClearOverHTTP(t *testing.T) {
	s := newTestServer(t)

	req := cashCredit(200, "2025-06-03")
	req.CashType = "cheque"
	req.Cheque = &ChequeRequest{ChequeNumber: "004512", BankName: "State Bank"}
	rec := s.postTx(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[PostTransactionResponse](t, rec)
	assert.Equal(t, "pending", created.Status)
	require.NotEmpty(t, created.ChequeID)

	rec = s.do(http.MethodGet, "/api/accounts/"+s.account+"/cheques/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ChequeDTO](t, rec), 1)

	rec = s.do(http.MethodPost, "/api/cheques/"+created.ChequeID+"/clear", ClearChequeRequest{ClearingDate: "2025-06-10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cleared := decode[ChequeStatusResponse](t, rec)
	assert.Equal(t, "cleared", cleared.Status)
	assert.Equal(t, "2025-06-10", cleared.ClearingDate)

	// Second clear conflicts
	rec = s.do(http.MethodPost, "/api/cheques/"+created.ChequeID+"/clear", ClearChequeRequest{ClearingDate: "2025-06-11"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Cancel without a body is accepted, but the cheque is no longer pending
	rec = s.do(http.MethodPost, "/api/cheques/"+created.ChequeID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodGet, "/api/ledger-heads/"+s.head+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[LedgerHeadBalanceDTO](t, rec)
	assert.True(t, bal.BankBalance.Equal(decimal.NewFromInt(200)))
}

func TestCheque_ClearRequiresDate(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/cheques/whatever/clear", ClearChequeRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// PERIODS
// =============================================================================

func TestPeriods_OpenCloseAndBalances(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/accounts/"+s.account+"/periods/open", PeriodRequest{Month: 5, Year: 2025})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	opened := decode[OpenPeriodResponse](t, rec)
	assert.True(t, opened.Opened)
	assert.False(t, opened.Backdated)

	require.Equal(t, http.StatusCreated, s.postTx(cashCredit(300, "2025-05-12")).Code)

	rec = s.do(http.MethodGet, "/api/accounts/"+s.account+"/period", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	period := decode[PeriodDTO](t, rec)
	assert.Equal(t, 5, period.Month)
	assert.Equal(t, 2025, period.Year)

	rec = s.do(http.MethodPost, "/api/accounts/"+s.account+"/periods/close", PeriodRequest{Month: 5, Year: 2025})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[ClosePeriodResponse](t, rec)
	assert.True(t, closed.Closed)
	assert.Equal(t, "2025-05-31", closed.LastClosedDate)

	rec = s.do(http.MethodGet, "/api/accounts/"+s.account+"/balances?month=5&year=2025", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]MonthlyBalanceDTO](t, rec)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].ClosingBalance.Equal(decimal.NewFromInt(300)))
	assert.False(t, rows[0].IsOpen)

	rec = s.do(http.MethodGet, "/api/accounts/"+s.account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	acct := decode[AccountDTO](t, rec)
	assert.Equal(t, "2025-05-31", acct.LastClosedDate)
	require.Len(t, acct.LedgerHeads, 1)

	// Closing again: nothing is open
	rec = s.do(http.MethodPost, "/api/accounts/"+s.account+"/periods/close", PeriodRequest{Month: 5, Year: 2025})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPeriods_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/accounts/"+s.account+"/periods/open", PeriodRequest{Month: 13, Year: 2025})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/accounts/"+s.account+"/balances?month=6", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/accounts/nope/period", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPeriods_NoLedgerHeads(t *testing.T) {
	s := newTestServer(t)
	acct, err := s.engine.CreateAccount(context.Background(), "Empty Fund")
	require.NoError(t, err)

	rec := s.do(http.MethodPost, "/api/accounts/"+string(acct.ID)+"/periods/open", PeriodRequest{Month: 6, Year: 2025})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestRecalculate(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.postTx(cashCredit(50, "2025-06-02")).Code)

	rec := s.do(http.MethodPost, "/api/accounts/"+s.account+"/recalculate", RecalculateRequest{From: "2025-06-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[RecalculateResponse](t, rec)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.FailedHeads)

	rec = s.do(http.MethodPost, "/api/accounts/"+s.account+"/recalculate", RecalculateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// AUDIT AND SCENARIOS
// =============================================================================

func TestAudit_ActorHeader(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/accounts/"+s.account+"/periods/open", PeriodRequest{Month: 6, Year: 2025},
		ActorHeader, "treasurer-9")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/accounts/"+s.account+"/audit?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]AuditEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "treasurer-9", entries[0].ActorID)
	assert.Equal(t, string(books.AuditPeriodOpened), entries[0].Action)

	rec = s.do(http.MethodGet, "/api/accounts/"+s.account+"/audit?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarios_ListAndLoad(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "cheque-lifecycle"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loaded := decode[LoadScenarioResponse](t, rec)
	require.Contains(t, loaded.Accounts, "school")

	// The store was reset: the original account is gone
	rec = s.do(http.MethodGet, "/api/accounts/"+s.account, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/transactions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
