/*
balance.go - Balance calculation and monthly snapshot cascade

PURPOSE:
  Computes a ledger head's balance from its transaction history and
  rewrites the run of monthly snapshots that follows an edited month.

KEY INSIGHT:
  Only completed transactions count. A pending cheque contributes nothing
  until it is cleared, and a cancelled one never does. That is why the
  deferred effect is modelled as a status and not applied eagerly.

THE CASCADE (RecalculateMonthlySnapshots):
  1. Month 1 opening = balance computed from transactions before it.
     The stored previous snapshot is not trusted; it may be stale.
  2. Each later opening = the previous iteration's closing, carried in
     memory, never re-read from storage.
  3. Receipts / payments are summed from the month's own transactions;
     closing = opening + receipts - payments.
  4. Stops after the later of the last stored snapshot and the asOf month.
     Months without a row inside the range get one with zero movement.
  5. Every row is computed before any row is written.

  Running it twice with the same inputs writes identical rows.

EXAMPLE:
  Head L, credits of 100 in Jan and 50 in Mar, no row for Feb:

    Jan: opening 0,   receipts 100, closing 100
    Feb: opening 100, receipts 0,   closing 100
    Mar: opening 100, receipts 50,  closing 150

SEE ALSO:
  - closure.go: triggers the cascade on backdated opens
  - transaction.go: triggers it on backdated override postings
*/
package books

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// POINT BALANCES
// =============================================================================

// CalculateBalanceFromTransactions sums the effects of completed
// transactions on the head with from <= tx_date < to. A nil from means
// "since the beginning".
func CalculateBalanceFromTransactions(ctx context.Context, r Reader, headID LedgerHeadID, accountID AccountID, from *time.Time, to time.Time) (Balance, error) {
	to = Day(to)
	filter := TransactionFilter{
		AccountID:    accountID,
		LedgerHeadID: headID,
		To:           &to,
		Statuses:     []TxStatus{TxCompleted},
	}
	if from != nil {
		f := Day(*from)
		filter.From = &f
	}

	txs, err := r.ListTransactions(ctx, filter)
	if err != nil {
		return Balance{}, err
	}
	return sumEffects(txs), nil
}

// CalculateOpeningBalance returns the previous month's stored closing if a
// row exists, otherwise the balance computed from transactions before the
// month's first day.
func CalculateOpeningBalance(ctx context.Context, r Reader, headID LedgerHeadID, accountID AccountID, month Month) (Balance, error) {
	prev, err := r.GetMonthlyBalance(ctx, accountID, headID, month.Prev())
	if err != nil {
		return Balance{}, err
	}
	if prev != nil {
		return prev.Closing(), nil
	}
	return CalculateBalanceFromTransactions(ctx, r, headID, accountID, nil, month.First())
}

// =============================================================================
// MONTH FIGURES
// =============================================================================

// MonthFigures is the movement of one head within one month.
type MonthFigures struct {
	Receipts decimal.Decimal
	Payments decimal.Decimal
	Delta    Balance
}

// SummarizeMonth sums the head's completed transactions dated inside month.
func SummarizeMonth(ctx context.Context, r Reader, headID LedgerHeadID, accountID AccountID, month Month) (MonthFigures, error) {
	from, to := month.First(), month.Next().First()
	txs, err := r.ListTransactions(ctx, TransactionFilter{
		AccountID:    accountID,
		LedgerHeadID: headID,
		From:         &from,
		To:           &to,
		Statuses:     []TxStatus{TxCompleted},
	})
	if err != nil {
		return MonthFigures{}, err
	}
	return summarize(txs), nil
}

func summarize(txs []Transaction) MonthFigures {
	f := MonthFigures{}
	for _, tx := range txs {
		if !tx.Effective() {
			continue
		}
		switch tx.TxType {
		case TxCredit:
			f.Receipts = f.Receipts.Add(tx.Amount)
		case TxDebit:
			f.Payments = f.Payments.Add(tx.Amount)
		}
		f.Delta = f.Delta.Add(tx.Delta())
	}
	return f
}

func sumEffects(txs []Transaction) Balance {
	var b Balance
	for _, tx := range txs {
		if tx.Effective() {
			b = b.Add(tx.Delta())
		}
	}
	return b
}

// buildSnapshot derives one month's row from its opening and movement.
func buildSnapshot(id string, accountID AccountID, headID LedgerHeadID, month Month, opening Balance, f MonthFigures) MonthlyLedgerBalance {
	return MonthlyLedgerBalance{
		ID:             id,
		AccountID:      accountID,
		LedgerHeadID:   headID,
		Month:          month,
		OpeningBalance: opening.Total,
		Receipts:       f.Receipts,
		Payments:       f.Payments,
		ClosingBalance: opening.Total.Add(f.Receipts).Sub(f.Payments),
		CashInHand:     opening.Cash.Add(f.Delta.Cash),
		CashInBank:     opening.Bank.Add(f.Delta.Bank),
	}
}

// =============================================================================
// CASCADE
// =============================================================================

// PlanSnapshots computes the rows for every month in [start, end] from an
// opening balance and the completed transactions dated in that range.
// existingIDs maps months to the IDs of rows already stored; other months
// get fresh IDs. It performs no I/O.
func PlanSnapshots(accountID AccountID, headID LedgerHeadID, start, end Month, opening Balance, txs []Transaction, existingIDs map[Month]string) []MonthlyLedgerBalance {
	byMonth := make(map[Month][]Transaction)
	for _, tx := range txs {
		m := MonthOf(tx.TxDate)
		byMonth[m] = append(byMonth[m], tx)
	}

	var rows []MonthlyLedgerBalance
	for _, m := range MonthsBetween(start, end) {
		id, ok := existingIDs[m]
		if !ok {
			id = uuid.NewString()
		}
		row := buildSnapshot(id, accountID, headID, m, opening, summarize(byMonth[m]))
		rows = append(rows, row)
		opening = row.Closing()
	}
	return rows
}

// RecalculateMonthlySnapshots rewrites the head's snapshots from the month
// containing from through the later of its last stored snapshot and asOf's
// month. s must be the transactional store of the calling operation.
func RecalculateMonthlySnapshots(ctx context.Context, s Store, accountID AccountID, headID LedgerHeadID, from, asOf time.Time) ([]MonthlyLedgerBalance, error) {
	head, err := s.GetLedgerHead(ctx, headID)
	if err != nil {
		return nil, err
	}
	if head.AccountID != accountID {
		return nil, &ValidationError{Field: "ledger_head_id", Message: fmt.Sprintf("head %s does not belong to account %s", headID, accountID)}
	}

	start := MonthOf(Day(from))
	end := MonthOf(Day(asOf))
	latest, err := s.LatestSnapshotMonth(ctx, accountID, headID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		end = Later(end, *latest)
	}
	end = Later(end, start)

	opening, err := CalculateBalanceFromTransactions(ctx, s, headID, accountID, nil, start.First())
	if err != nil {
		return nil, err
	}

	rangeFrom, rangeTo := start.First(), end.Next().First()
	txs, err := s.ListTransactions(ctx, TransactionFilter{
		AccountID:    accountID,
		LedgerHeadID: headID,
		From:         &rangeFrom,
		To:           &rangeTo,
		Statuses:     []TxStatus{TxCompleted},
	})
	if err != nil {
		return nil, err
	}

	existingIDs := make(map[Month]string)
	for _, m := range MonthsBetween(start, end) {
		row, err := s.GetMonthlyBalance(ctx, accountID, headID, m)
		if err != nil {
			return nil, err
		}
		if row != nil {
			existingIDs[m] = row.ID
		}
	}

	rows := PlanSnapshots(accountID, headID, start, end, opening, txs, existingIDs)

	open, err := s.GetOpenPeriod(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if err := s.UpsertMonthlyBalance(ctx, rows[i]); err != nil {
			return nil, err
		}
		rows[i].IsOpen = open != nil && open.Month.Equal(rows[i].Month)
	}
	return rows, nil
}

// refreshMonth recomputes one month's row for a head without touching any
// other month. Opening comes from CalculateOpeningBalance.
func refreshMonth(ctx context.Context, s Store, accountID AccountID, headID LedgerHeadID, month Month) (MonthlyLedgerBalance, error) {
	opening, err := CalculateOpeningBalance(ctx, s, headID, accountID, month)
	if err != nil {
		return MonthlyLedgerBalance{}, err
	}
	figures, err := SummarizeMonth(ctx, s, headID, accountID, month)
	if err != nil {
		return MonthlyLedgerBalance{}, err
	}

	id := uuid.NewString()
	existing, err := s.GetMonthlyBalance(ctx, accountID, headID, month)
	if err != nil {
		return MonthlyLedgerBalance{}, err
	}
	if existing != nil {
		id = existing.ID
	}

	row := buildSnapshot(id, accountID, headID, month, opening, figures)
	if err := s.UpsertMonthlyBalance(ctx, row); err != nil {
		return MonthlyLedgerBalance{}, err
	}
	return row, nil
}
