package books_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookkeeping-engine/books"
)

func completedTx(txType books.TxType, amount, cash, bank int64, date time.Time) books.Transaction {
	return books.Transaction{
		TxType:     txType,
		Amount:     dec(amount),
		CashAmount: dec(cash),
		BankAmount: dec(bank),
		TxDate:     date,
		Status:     books.TxCompleted,
	}
}

// =============================================================================
// PLAN SNAPSHOTS (pure)
// =============================================================================

func TestPlanSnapshots_CarriesClosingForward(t *testing.T) {
	// GIVEN: Credits of 100 in January and 50 in March, nothing in February
	txs := []books.Transaction{
		completedTx(books.TxCredit, 100, 100, 0, books.Date(2025, time.January, 4)),
		completedTx(books.TxCredit, 50, 0, 50, books.Date(2025, time.March, 9)),
		completedTx(books.TxDebit, 20, 20, 0, books.Date(2025, time.March, 11)),
	}
	existing := map[books.Month]string{books.NewMonth(2025, time.February): "feb-row"}

	// WHEN: Planning January through March from zero
	rows := books.PlanSnapshots("acct", "head",
		books.NewMonth(2025, time.January), books.NewMonth(2025, time.March),
		books.Balance{}, txs, existing)

	// THEN: Three rows chained opening -> closing
	require.Len(t, rows, 3)

	assertDecimal(t, 0, rows[0].OpeningBalance, "jan opening")
	assertDecimal(t, 100, rows[0].ClosingBalance, "jan closing")

	assert.Equal(t, "feb-row", rows[1].ID, "existing id kept")
	assertDecimal(t, 100, rows[1].OpeningBalance, "feb opening")
	assertDecimal(t, 0, rows[1].Receipts, "feb receipts")
	assertDecimal(t, 100, rows[1].ClosingBalance, "feb closing")

	assertDecimal(t, 100, rows[2].OpeningBalance, "mar opening")
	assertDecimal(t, 50, rows[2].Receipts, "mar receipts")
	assertDecimal(t, 20, rows[2].Payments, "mar payments")
	assertDecimal(t, 130, rows[2].ClosingBalance, "mar closing")
	assertDecimal(t, 80, rows[2].CashInHand, "mar cash")
	assertDecimal(t, 50, rows[2].CashInBank, "mar bank")

	assert.NotEmpty(t, rows[0].ID)
	assert.NotEqual(t, rows[0].ID, rows[2].ID)
}

func TestPlanSnapshots_IgnoresPendingAndCancelled(t *testing.T) {
	pending := completedTx(books.TxCredit, 200, 0, 200, books.Date(2025, time.January, 4))
	pending.Status = books.TxPending
	cancelled := completedTx(books.TxCredit, 300, 0, 300, books.Date(2025, time.January, 5))
	cancelled.Status = books.TxCancelled

	rows := books.PlanSnapshots("acct", "head",
		books.NewMonth(2025, time.January), books.NewMonth(2025, time.January),
		books.Balance{Total: dec(10), Cash: dec(10), Bank: decimal.Zero},
		[]books.Transaction{pending, cancelled}, nil)

	require.Len(t, rows, 1)
	assertDecimal(t, 10, rows[0].ClosingBalance, "closing")
	assertDecimal(t, 0, rows[0].Receipts, "receipts")
}

// =============================================================================
// STORE-BACKED CALCULATIONS
// =============================================================================

func TestCalculateBalanceFromTransactions_HalfOpenRange(t *testing.T) {
	f := newFixture(t, books.Date(2025, time.June, 20))
	f.post(t, f.head, books.TxCredit, books.CashTypeCash, 100, books.Date(2025, time.June, 1))
	f.post(t, f.head, books.TxCredit, books.CashTypeBank, 40, books.Date(2025, time.June, 10))
	f.post(t, f.head, books.TxDebit, books.CashTypeCash, 15, books.Date(2025, time.June, 11))

	from := books.Date(2025, time.June, 10)
	bal, err := books.CalculateBalanceFromTransactions(f.ctx, f.store, f.head, f.account, &from, books.Date(2025, time.June, 11))
	require.NoError(t, err)
	assertDecimal(t, 40, bal.Total, "from inclusive, to exclusive")
	assertDecimal(t, 40, bal.Bank, "bank")

	all, err := books.CalculateBalanceFromTransactions(f.ctx, f.store, f.head, f.account, nil, books.Date(2025, time.July, 1))
	require.NoError(t, err)
	assertDecimal(t, 125, all.Total, "all time")
	assertDecimal(t, 85, all.Cash, "cash")
}

func TestCalculateOpeningBalance_PrefersPriorRow(t *testing.T) {
	// GIVEN: May closed at 100
	f := newFixture(t, books.Date(2025, time.June, 20))
	f.open(t, 2025, time.May)
	f.post(t, f.head, books.TxCredit, books.CashTypeCash, 100, books.Date(2025, time.May, 2))
	f.close(t, 2025, time.May)

	// WHEN/THEN: June's opening comes from May's row
	bal, err := books.CalculateOpeningBalance(f.ctx, f.store, f.head, f.account, books.NewMonth(2025, time.June))
	require.NoError(t, err)
	assertDecimal(t, 100, bal.Total, "june opening")

	// AND: With no April row, May's opening is computed from transactions
	bal, err = books.CalculateOpeningBalance(f.ctx, f.store, f.head, f.account, books.NewMonth(2025, time.May))
	require.NoError(t, err)
	assertDecimal(t, 0, bal.Total, "may opening")
}

func TestSummarizeMonth(t *testing.T) {
	f := newFixture(t, books.Date(2025, time.June, 20))
	f.post(t, f.head, books.TxCredit, books.CashTypeCash, 100, books.Date(2025, time.June, 1))
	f.post(t, f.head, books.TxDebit, books.CashTypeNetbank, 30, books.Date(2025, time.June, 30))

	figures, err := books.SummarizeMonth(f.ctx, f.store, f.head, f.account, books.NewMonth(2025, time.June))
	require.NoError(t, err)

	assertDecimal(t, 100, figures.Receipts, "receipts")
	assertDecimal(t, 30, figures.Payments, "payments")
	assertDecimal(t, 70, figures.Delta.Total, "delta")
	assertDecimal(t, -30, figures.Delta.Bank, "bank delta")
}

func TestRecalculateMonthlySnapshots_StopsAtAsOf(t *testing.T) {
	// GIVEN: A single June posting and no later rows
	f := newFixture(t, books.Date(2025, time.June, 20))
	f.post(t, f.head, books.TxCredit, books.CashTypeCash, 100, books.Date(2025, time.June, 2))

	// WHEN: Cascading from April with asOf in August
	var rows []books.MonthlyLedgerBalance
	err := f.store.WithTx(f.ctx, func(s books.Store) error {
		var err error
		rows, err = books.RecalculateMonthlySnapshots(f.ctx, s, f.account, f.head, books.Date(2025, time.April, 1), books.Date(2025, time.August, 5))
		return err
	})
	require.NoError(t, err)

	// THEN: April through August, gap months created
	require.Len(t, rows, 5)
	assert.Equal(t, books.NewMonth(2025, time.April), rows[0].Month)
	assert.Equal(t, books.NewMonth(2025, time.August), rows[4].Month)
	assertDecimal(t, 100, rows[4].ClosingBalance, "august closing")
	assert.True(t, rows[2].IsOpen, "june is the open month")

	latest, err := f.store.LatestSnapshotMonth(f.ctx, f.account, f.head)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, books.NewMonth(2025, time.August), *latest)
}
