package scenario_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookkeeping-engine/books"
	"github.com/warp/bookkeeping-engine/books/store"
	"github.com/warp/bookkeeping-engine/scenario"
)

func assertDecimal(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(decimal.NewFromInt(want)), "%s: want %d, got %s", msg, want, got)
}

func load(t *testing.T, id string) (*store.Memory, *scenario.Result) {
	t.Helper()
	mem := store.NewMemory()
	s, err := scenario.Get(id)
	require.NoError(t, err)

	res, err := scenario.Load(context.Background(), books.NewEngine(mem), s, false)
	require.NoError(t, err)
	return mem, res
}

// =============================================================================
// CATALOG
// =============================================================================

func TestList_SortedByID(t *testing.T) {
	list, err := scenario.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "backdated-open", list[0].ID)
	assert.Equal(t, "cheque-lifecycle", list[1].ID)
	assert.NotEmpty(t, list[0].Description)
}

func TestGet_Unknown(t *testing.T) {
	_, err := scenario.Get("nope")
	assert.True(t, books.IsNotFound(err))
}

func TestParse_Rejects(t *testing.T) {
	_, err := scenario.Parse([]byte("name: no id\n"))
	assert.Error(t, err)

	_, err = scenario.Parse([]byte(`
id: bad
steps:
  - open: {account: a, month: 2025-01}
    close: {account: a, month: 2025-01}
`))
	assert.ErrorContains(t, err, "2 actions")
}

// =============================================================================
// LOADER
// =============================================================================

func TestLoad_BackdatedOpen(t *testing.T) {
	// GIVEN/WHEN: The backdated-open fixture is replayed
	mem, res := load(t, "backdated-open")
	ctx := context.Background()
	acct := res.Accounts["temple"]
	donations := res.Heads["temple/donations"]
	maintenance := res.Heads["temple/maintenance"]

	// THEN: March is open and every later month is chained from it
	open, err := mem.GetOpenPeriod(ctx, acct)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, books.NewMonth(2025, time.March), open.Month)

	mar, err := mem.GetMonthlyBalance(ctx, acct, donations, books.NewMonth(2025, time.March))
	require.NoError(t, err)
	require.NotNil(t, mar)
	assertDecimal(t, 700, mar.OpeningBalance, "donations march opening")

	jun, err := mem.GetMonthlyBalance(ctx, acct, donations, books.NewMonth(2025, time.June))
	require.NoError(t, err)
	require.NotNil(t, jun)
	assertDecimal(t, 700, jun.OpeningBalance, "donations june opening")
	assertDecimal(t, 300, jun.Receipts, "donations june receipts")
	assertDecimal(t, 1000, jun.ClosingBalance, "donations june closing")

	mjun, err := mem.GetMonthlyBalance(ctx, acct, maintenance, books.NewMonth(2025, time.June))
	require.NoError(t, err)
	require.NotNil(t, mjun)
	assertDecimal(t, 150, mjun.OpeningBalance, "maintenance june opening")
	assertDecimal(t, 40, mjun.Payments, "maintenance june payments")
	assertDecimal(t, 110, mjun.ClosingBalance, "maintenance june closing")

	head, err := mem.GetLedgerHead(ctx, donations)
	require.NoError(t, err)
	assertDecimal(t, 1000, head.CurrentBalance, "donations current")
}

func TestLoad_ChequeLifecycle(t *testing.T) {
	mem, res := load(t, "cheque-lifecycle")
	ctx := context.Background()
	require.Len(t, res.Cheques, 2)

	head, err := mem.GetLedgerHead(ctx, res.Heads["school/building"])
	require.NoError(t, err)
	assertDecimal(t, 1050, head.CurrentBalance, "current")
	assertDecimal(t, 1000, head.CashBalance, "cash")
	assertDecimal(t, 50, head.BankBalance, "bank")

	returned, err := mem.GetCheque(ctx, res.Cheques["chq-b"])
	require.NoError(t, err)
	assert.Equal(t, books.ChequeCancelled, returned.Status)
	assert.Equal(t, "returned unpaid", returned.CancelReason)
}

func TestLoad_ResetWipesStore(t *testing.T) {
	// GIVEN: A store already holding one scenario
	mem, first := load(t, "cheque-lifecycle")
	ctx := context.Background()

	// WHEN: Another scenario is loaded with reset
	s, err := scenario.Get("backdated-open")
	require.NoError(t, err)
	_, err = scenario.Load(ctx, books.NewEngine(mem), s, true)
	require.NoError(t, err)

	// THEN: The first scenario's account is gone
	_, err = mem.GetAccount(ctx, first.Accounts["school"])
	assert.True(t, books.IsNotFound(err))
}

func TestLoad_DoesNotChangeCallerClock(t *testing.T) {
	mem := store.NewMemory()
	engine := books.NewEngine(mem)
	s, err := scenario.Get("cheque-lifecycle")
	require.NoError(t, err)

	_, err = scenario.Load(context.Background(), engine, s, false)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), engine.Now(), time.Minute)
}
