package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookkeeping-engine/books"
	"github.com/warp/bookkeeping-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	ctx     context.Context
	store   *sqlite.Store
	engine  *books.Engine
	account books.AccountID
	head    books.LedgerHeadID
}

func newEnv(t *testing.T, clock time.Time) *env {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := books.NewEngine(store)
	engine.Now = func() time.Time { return clock }

	ctx := books.WithActor(context.Background(), "clerk-7")
	acct, err := engine.CreateAccount(ctx, "Temple Trust")
	require.NoError(t, err)
	head, err := engine.CreateLedgerHead(ctx, acct.ID, "Donations", books.HeadCredit)
	require.NoError(t, err)

	return &env{ctx: ctx, store: store, engine: engine, account: acct.ID, head: head.ID}
}

func (e *env) post(t *testing.T, cashType books.CashType, txType books.TxType, amount int64, date time.Time) books.PostTransactionResult {
	t.Helper()
	res, err := e.engine.PostTransaction(e.ctx, books.PostTransactionInput{
		AccountID:    e.account,
		LedgerHeadID: e.head,
		Amount:       decimal.NewFromInt(amount),
		TxType:       txType,
		CashType:     cashType,
		TxDate:       date,
	})
	require.NoError(t, err)
	return res
}

func (e *env) snapshot(t *testing.T, year int, month time.Month) books.MonthlyLedgerBalance {
	t.Helper()
	row, err := e.store.GetMonthlyBalance(e.ctx, e.account, e.head, books.NewMonth(year, month))
	require.NoError(t, err)
	require.NotNil(t, row, "snapshot %d-%02d", year, month)
	return *row
}

func assertDecimal(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "%s: want %d, got %s", msg, want, got)
}

// =============================================================================
// ENGINE OVER SQLITE
// =============================================================================

func TestSQLite_BackdatedOpenRecomputesLaterMonths(t *testing.T) {
	// GIVEN: January 500 cash, February 200 upi, June open with +300
	e := newEnv(t, books.Date(2025, time.June, 20))
	_, err := e.engine.OpenPeriod(e.ctx, e.account, books.NewMonth(2025, time.January))
	require.NoError(t, err)
	e.post(t, books.CashTypeCash, books.TxCredit, 500, books.Date(2025, time.January, 10))
	_, err = e.engine.ClosePeriod(e.ctx, e.account, books.NewMonth(2025, time.January))
	require.NoError(t, err)

	_, err = e.engine.OpenPeriod(e.ctx, e.account, books.NewMonth(2025, time.February))
	require.NoError(t, err)
	e.post(t, books.CashTypeUPI, books.TxCredit, 200, books.Date(2025, time.February, 14))
	_, err = e.engine.ClosePeriod(e.ctx, e.account, books.NewMonth(2025, time.February))
	require.NoError(t, err)

	_, err = e.engine.OpenPeriod(e.ctx, e.account, books.NewMonth(2025, time.June))
	require.NoError(t, err)
	e.post(t, books.CashTypeCash, books.TxCredit, 300, books.Date(2025, time.June, 5))

	// WHEN: March is opened while June is open
	res, err := e.engine.OpenPeriod(e.ctx, e.account, books.NewMonth(2025, time.March))
	require.NoError(t, err)

	// THEN: Backdated, every later row chained from March
	assert.True(t, res.Backdated)
	assert.Empty(t, res.Failures)

	mar := e.snapshot(t, 2025, time.March)
	assertDecimal(t, 700, mar.OpeningBalance, "march opening")
	assertDecimal(t, 500, mar.CashInHand, "march cash")
	assertDecimal(t, 200, mar.CashInBank, "march bank")
	assert.True(t, mar.IsOpen, "march carries the open flag")

	jun := e.snapshot(t, 2025, time.June)
	assertDecimal(t, 700, jun.OpeningBalance, "june opening")
	assertDecimal(t, 300, jun.Receipts, "june receipts")
	assertDecimal(t, 1000, jun.ClosingBalance, "june closing")
	assert.False(t, jun.IsOpen, "june no longer open")

	open, err := e.engine.GetOpenPeriod(e.ctx, e.account)
	require.NoError(t, err)
	assert.Equal(t, books.NewMonth(2025, time.March), open)

	entries, err := e.engine.AuditTrail(e.ctx, e.account, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, books.AuditPeriodOpened, entries[0].Action)
	assert.Equal(t, "true", entries[0].Details["backdated"])
	assert.Equal(t, "clerk-7", entries[0].ActorID)
}

func TestSQLite_ChequeClearAndCancel(t *testing.T) {
	e := newEnv(t, books.Date(2025, time.June, 20))
	june := books.Date(2025, time.June, 3)

	post := func(amount int64, number string) books.PostTransactionResult {
		res, err := e.engine.PostTransaction(e.ctx, books.PostTransactionInput{
			AccountID:    e.account,
			LedgerHeadID: e.head,
			Amount:       decimal.NewFromInt(amount),
			TxType:       books.TxCredit,
			CashType:     books.CashTypeCheque,
			TxDate:       june,
			Cheque:       &books.ChequeInput{ChequeNumber: number, BankName: "Canara"},
		})
		require.NoError(t, err)
		return res
	}
	first := post(250, "100001")
	second := post(90, "100002")

	pending, err := e.engine.ListPendingCheques(e.ctx, e.account)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// WHEN: One clears and the other is cancelled
	_, err = e.engine.ClearCheque(e.ctx, first.ChequeID, books.Date(2025, time.June, 9))
	require.NoError(t, err)
	_, err = e.engine.CancelCheque(e.ctx, second.ChequeID, "signature mismatch")
	require.NoError(t, err)

	// THEN: Only the cleared cheque reaches the bank part
	head, err := e.store.GetLedgerHead(e.ctx, e.head)
	require.NoError(t, err)
	assertDecimal(t, 250, head.CurrentBalance, "current")
	assertDecimal(t, 250, head.BankBalance, "bank")
	assertDecimal(t, 0, head.CashBalance, "cash")

	detail, err := e.engine.GetTransaction(e.ctx, second.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, books.TxCancelled, detail.Transaction.Status)
	require.NotNil(t, detail.Cheque)
	assert.Equal(t, "signature mismatch", detail.Cheque.CancelReason)

	cleared, err := e.store.GetCheque(e.ctx, first.ChequeID)
	require.NoError(t, err)
	require.NotNil(t, cleared.ClearingDate)
	assert.Equal(t, books.Date(2025, time.June, 9), *cleared.ClearingDate)

	pending, err = e.engine.ListPendingCheques(e.ctx, e.account)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// =============================================================================
// CONSTRAINTS
// =============================================================================

func TestSQLite_DuplicateReceipt(t *testing.T) {
	e := newEnv(t, books.Date(2025, time.June, 20))
	in := books.PostTransactionInput{
		AccountID:    e.account,
		LedgerHeadID: e.head,
		BookletID:    "B-12",
		ReceiptNo:    "0042",
		Amount:       decimal.NewFromInt(10),
		TxType:       books.TxCredit,
		CashType:     books.CashTypeCash,
		TxDate:       books.Date(2025, time.June, 2),
	}
	_, err := e.engine.PostTransaction(e.ctx, in)
	require.NoError(t, err)

	_, err = e.engine.PostTransaction(e.ctx, in)
	assert.ErrorIs(t, err, books.ErrUniqueConstraint)

	// AND: The rejected posting left no trace
	txs, err := e.store.ListTransactions(e.ctx, books.TransactionFilter{AccountID: e.account})
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	head, err := e.store.GetLedgerHead(e.ctx, e.head)
	require.NoError(t, err)
	assertDecimal(t, 10, head.CurrentBalance, "current")
}

func TestSQLite_DuplicateAccountName(t *testing.T) {
	e := newEnv(t, books.Date(2025, time.June, 20))

	_, err := e.engine.CreateAccount(e.ctx, "temple trust")
	assert.ErrorIs(t, err, books.ErrUniqueConstraint)
	assert.True(t, books.IsConflict(err))
}

func TestSQLite_SingleOpenPeriod(t *testing.T) {
	e := newEnv(t, books.Date(2025, time.June, 20))
	now := time.Now().UTC()

	require.NoError(t, e.store.SavePeriod(e.ctx, books.AccountPeriod{
		AccountID: e.account, Month: books.NewMonth(2025, time.May), IsOpen: true, OpenedAt: now,
	}))

	err := e.store.SavePeriod(e.ctx, books.AccountPeriod{
		AccountID: e.account, Month: books.NewMonth(2025, time.June), IsOpen: true, OpenedAt: now,
	})
	assert.ErrorIs(t, err, books.ErrUniqueConstraint)

	open, err := e.store.GetOpenPeriod(e.ctx, e.account)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, books.NewMonth(2025, time.May), open.Month)
}

func TestSQLite_ConcurrentOpenersLeaveOneOpen(t *testing.T) {
	// GIVEN: Six openers racing for different months of one account
	e := newEnv(t, books.Date(2025, time.June, 20))

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.engine.OpenPeriod(e.ctx, e.account, books.NewMonth(2025, time.Month(i+1)))
		}(i)
	}
	wg.Wait()

	// THEN: Each one committed in turn and exactly one period is open
	for i, err := range errs {
		assert.NoError(t, err, "opener %d", i)
	}
	open := 0
	for m := time.January; m <= time.June; m++ {
		period, err := e.store.GetPeriod(e.ctx, e.account, books.NewMonth(2025, m))
		require.NoError(t, err)
		if period != nil && period.IsOpen {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func TestSQLite_ForwardOpenRefreshesPreviousMonth(t *testing.T) {
	e := newEnv(t, books.Date(2025, time.July, 5))
	_, err := e.engine.OpenPeriod(e.ctx, e.account, books.NewMonth(2025, time.June))
	require.NoError(t, err)
	e.post(t, books.CashTypeCash, books.TxCredit, 300, books.Date(2025, time.June, 12))

	_, err = e.engine.OpenPeriod(e.ctx, e.account, books.NewMonth(2025, time.July))
	require.NoError(t, err)

	jun := e.snapshot(t, 2025, time.June)
	assertDecimal(t, 300, jun.Receipts, "june receipts")
	assertDecimal(t, 300, jun.ClosingBalance, "june closing")
	jul := e.snapshot(t, 2025, time.July)
	assertDecimal(t, 300, jul.OpeningBalance, "july opening")
}

// =============================================================================
// STORE BEHAVIOUR
// =============================================================================

func TestSQLite_NotFound(t *testing.T) {
	e := newEnv(t, books.Date(2025, time.June, 20))

	_, err := e.store.GetAccount(e.ctx, "missing")
	var nf *books.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "account", nf.Entity)

	_, err = e.store.GetCheque(e.ctx, "missing")
	assert.True(t, books.IsNotFound(err))

	err = e.store.UpdateTransactionStatus(e.ctx, "missing", books.TxCompleted)
	assert.True(t, books.IsNotFound(err))

	row, err := e.store.GetMonthlyBalance(e.ctx, e.account, e.head, books.NewMonth(2025, time.June))
	require.NoError(t, err)
	assert.Nil(t, row, "absent snapshot is not an error")
}

func TestSQLite_WithTxRollsBack(t *testing.T) {
	e := newEnv(t, books.Date(2025, time.June, 20))
	boom := errors.New("boom")

	err := e.store.WithTx(e.ctx, func(s books.Store) error {
		if err := s.CreateAccount(e.ctx, books.Account{ID: "acct-x", Name: "Rolled Back"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = e.store.GetAccount(e.ctx, "acct-x")
	assert.True(t, books.IsNotFound(err))
}

func TestSQLite_OpenFlagProjectedFromPeriods(t *testing.T) {
	e := newEnv(t, books.Date(2025, time.June, 20))
	_, err := e.engine.OpenPeriod(e.ctx, e.account, books.NewMonth(2025, time.June))
	require.NoError(t, err)

	rows, err := e.engine.GetMonthlyBalances(e.ctx, e.account, books.NewMonth(2025, time.June))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsOpen)

	_, err = e.engine.ClosePeriod(e.ctx, e.account, books.NewMonth(2025, time.June))
	require.NoError(t, err)

	rows, err = e.engine.GetMonthlyBalances(e.ctx, e.account, books.NewMonth(2025, time.June))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsOpen)

	acct, err := e.store.GetAccount(e.ctx, e.account)
	require.NoError(t, err)
	require.NotNil(t, acct.LastClosedDate)
	assert.Equal(t, books.Date(2025, time.June, 30), *acct.LastClosedDate)
}

func TestSQLite_Reset(t *testing.T) {
	e := newEnv(t, books.Date(2025, time.June, 20))
	e.post(t, books.CashTypeCash, books.TxCredit, 40, books.Date(2025, time.June, 1))

	require.NoError(t, e.store.Reset(e.ctx))

	_, err := e.store.GetAccount(e.ctx, e.account)
	assert.True(t, books.IsNotFound(err))

	entries, err := e.store.ListAudit(e.ctx, books.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	// AND: The same name can be reused afterwards
	_, err = e.engine.CreateAccount(e.ctx, "Temple Trust")
	assert.NoError(t, err)
}
