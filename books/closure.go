/*
closure.go - Period open/close orchestration

PURPOSE:
  Maintains the per-account period state machine: exactly one month is
  OPEN, every other month is CLOSED. Opening a month earlier than the
  currently open one ("backdated open") recomputes every month between it
  and the present for every ledger head.

STATE:
  The open flag lives on AccountPeriod, one row per (account, month).
  Snapshot rows never carry it, so there is no "first ledger head gets the
  flag" special case.

OPERATIONS:
  OpenPeriod:     refresh and close current, open target, seed missing rows,
                  cascade if backdated
  ClosePeriod:    refresh the month's own rows, mark closed, set last_closed_date
  GetOpenPeriod:  current open month, auto-opening the clock's month if none
  Recalculate:    administrative cascade from a date

BACKDATED DETECTION:
  target < currently open month, or, with nothing open, target is not after
  the month of last_closed_date. Decided against the injected clock, never
  against a module-level "today".

PARTIAL FAILURE:
  A head whose cascade fails with a non-storage error is logged and listed
  in the result; the other heads still run. A storage error aborts and the
  whole operation rolls back.
*/
package books

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RESULTS
// =============================================================================

type OpenPeriodResult struct {
	AccountID    AccountID
	Month        Month
	Opened       bool
	AlreadyOpen  bool
	Backdated    bool
	Recalculated bool
	Failures     []HeadFailure
}

type ClosePeriodResult struct {
	AccountID      AccountID
	Month          Month
	Closed         bool
	LastClosedDate time.Time
}

type RecalculationResult struct {
	Updated  []MonthlyLedgerBalance
	Failures []HeadFailure
}

// Err returns a *RecalculationError when any head failed.
func (r RecalculationResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &RecalculationError{Failures: r.Failures}
}

// =============================================================================
// OPEN
// =============================================================================

// OpenPeriod makes month the account's single open period.
func (e *Engine) OpenPeriod(ctx context.Context, accountID AccountID, month Month) (OpenPeriodResult, error) {
	var result OpenPeriodResult
	err := e.atomically(ctx, func(t *txn) error {
		var err error
		result, err = e.openPeriod(ctx, t, accountID, month)
		return err
	})
	if err != nil {
		return OpenPeriodResult{}, err
	}
	return result, nil
}

func (e *Engine) openPeriod(ctx context.Context, t *txn, accountID AccountID, month Month) (OpenPeriodResult, error) {
	result := OpenPeriodResult{AccountID: accountID, Month: month}

	acct, err := t.GetAccount(ctx, accountID)
	if err != nil {
		return result, err
	}
	heads, err := t.ListLedgerHeads(ctx, accountID)
	if err != nil {
		return result, err
	}
	if len(heads) == 0 {
		return result, fmt.Errorf("open %s for account %s: %w", month, accountID, ErrNoLedgerHeads)
	}

	current, err := t.GetOpenPeriod(ctx, accountID)
	if err != nil {
		return result, err
	}
	if current != nil && current.Month.Equal(month) {
		result.Opened = true
		result.AlreadyOpen = true
		return result, nil
	}

	switch {
	case current != nil:
		result.Backdated = month.Before(current.Month)
		// A forward open closes the current month, so its rows get the same
		// refresh ClosePeriod gives them. Backdated opens are covered by the
		// cascade below.
		if !result.Backdated {
			for _, head := range heads {
				if _, err := refreshMonth(ctx, t, accountID, head.ID, current.Month); err != nil {
					return result, err
				}
			}
		}
		closedAt := t.now
		current.IsOpen = false
		current.ClosedAt = &closedAt
		if err := t.SavePeriod(ctx, *current); err != nil {
			return result, err
		}
	case acct.LastClosedDate != nil:
		result.Backdated = !month.After(MonthOf(*acct.LastClosedDate))
	}

	if err := t.SavePeriod(ctx, AccountPeriod{
		AccountID: accountID,
		Month:     month,
		IsOpen:    true,
		OpenedAt:  t.now,
	}); err != nil {
		return result, err
	}
	result.Opened = true

	for _, head := range heads {
		if err := seedSnapshot(ctx, t, head, month); err != nil {
			return result, err
		}
	}

	if result.Backdated {
		recalc, err := e.recalculateHeads(ctx, t, accountID, heads, month.First())
		if err != nil {
			return result, err
		}
		result.Failures = recalc.Failures
		result.Recalculated = len(recalc.Failures) < len(heads)
	}

	rows, err := t.ListMonthlyBalances(ctx, accountID, month)
	if err != nil {
		return result, err
	}
	// The account's opening balance always describes the open month,
	// backdated or not.
	opening := decimal.Zero
	for _, row := range rows {
		opening = opening.Add(row.OpeningBalance)
	}
	acct.OpeningBalance = opening
	if err := t.UpdateAccount(ctx, *acct); err != nil {
		return result, err
	}

	details := map[string]string{
		"month":        month.String(),
		"backdated":    fmt.Sprint(result.Backdated),
		"recalculated": fmt.Sprint(result.Recalculated),
	}
	if current != nil {
		details["previous_open"] = current.Month.String()
	}
	if len(result.Failures) > 0 {
		details["failed_heads"] = fmt.Sprint(len(result.Failures))
	}
	return result, t.record(ctx, "account", string(accountID), AuditPeriodOpened, details)
}

// seedSnapshot creates the month's row from the head's running balance
// when none exists. Existing rows are left to the cascade.
func seedSnapshot(ctx context.Context, s Store, head LedgerHead, month Month) error {
	existing, err := s.GetMonthlyBalance(ctx, head.AccountID, head.ID, month)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.UpsertMonthlyBalance(ctx, MonthlyLedgerBalance{
		ID:             uuid.NewString(),
		AccountID:      head.AccountID,
		LedgerHeadID:   head.ID,
		Month:          month,
		OpeningBalance: head.CurrentBalance,
		Receipts:       decimal.Zero,
		Payments:       decimal.Zero,
		ClosingBalance: head.CurrentBalance,
		CashInHand:     head.CashBalance,
		CashInBank:     head.BankBalance,
	})
}

// =============================================================================
// CLOSE
// =============================================================================

// ClosePeriod closes month, which must be the account's open period.
func (e *Engine) ClosePeriod(ctx context.Context, accountID AccountID, month Month) (ClosePeriodResult, error) {
	result := ClosePeriodResult{AccountID: accountID, Month: month}
	err := e.atomically(ctx, func(t *txn) error {
		acct, err := t.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		open, err := t.GetOpenPeriod(ctx, accountID)
		if err != nil {
			return err
		}
		if open == nil || !open.Month.Equal(month) {
			return &PeriodNotOpenError{AccountID: accountID, Month: month}
		}

		heads, err := t.ListLedgerHeads(ctx, accountID)
		if err != nil {
			return err
		}
		closing := decimal.Zero
		for _, head := range heads {
			row, err := refreshMonth(ctx, t, accountID, head.ID, month)
			if err != nil {
				return err
			}
			closing = closing.Add(row.ClosingBalance)
		}

		closedAt := t.now
		open.IsOpen = false
		open.ClosedAt = &closedAt
		if err := t.SavePeriod(ctx, *open); err != nil {
			return err
		}

		last := month.LastDay()
		acct.LastClosedDate = &last
		if err := t.UpdateAccount(ctx, *acct); err != nil {
			return err
		}

		result.Closed = true
		result.LastClosedDate = last
		return t.record(ctx, "account", string(accountID), AuditPeriodClosed, map[string]string{
			"month":            month.String(),
			"last_closed_date": last.Format("2006-01-02"),
			"closing_balance":  closing.String(),
		})
	})
	if err != nil {
		return ClosePeriodResult{}, err
	}
	return result, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetOpenPeriod returns the account's open month. A fresh account with no
// open period gets the clock's current month opened.
func (e *Engine) GetOpenPeriod(ctx context.Context, accountID AccountID) (Month, error) {
	open, err := e.Store.GetOpenPeriod(ctx, accountID)
	if err != nil {
		return Month{}, err
	}
	if open != nil {
		return open.Month, nil
	}

	var month Month
	err = e.atomically(ctx, func(t *txn) error {
		var err error
		month, err = e.resolveOpenPeriod(ctx, t, accountID)
		return err
	})
	return month, err
}

// resolveOpenPeriod is GetOpenPeriod inside an existing transaction.
func (e *Engine) resolveOpenPeriod(ctx context.Context, t *txn, accountID AccountID) (Month, error) {
	open, err := t.GetOpenPeriod(ctx, accountID)
	if err != nil {
		return Month{}, err
	}
	if open != nil {
		return open.Month, nil
	}
	month := MonthOf(t.asOf)
	if _, err := e.openPeriod(ctx, t, accountID, month); err != nil {
		return Month{}, err
	}
	e.logger().Info("auto-opened period", "account_id", accountID, "month", month.String())
	return month, nil
}

// GetMonthlyBalances returns every head's row for the month.
func (e *Engine) GetMonthlyBalances(ctx context.Context, accountID AccountID, month Month) ([]MonthlyLedgerBalance, error) {
	if _, err := e.Store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.Store.ListMonthlyBalances(ctx, accountID, month)
}

// GetLedgerHeadBalance returns the head with its computed balance over [from, to).
func (e *Engine) GetLedgerHeadBalance(ctx context.Context, headID LedgerHeadID, from *time.Time, to time.Time) (*LedgerHead, Balance, error) {
	head, err := e.Store.GetLedgerHead(ctx, headID)
	if err != nil {
		return nil, Balance{}, err
	}
	bal, err := CalculateBalanceFromTransactions(ctx, e.Store, head.ID, head.AccountID, from, to)
	if err != nil {
		return nil, Balance{}, err
	}
	return head, bal, nil
}

// =============================================================================
// RECALCULATION
// =============================================================================

// Recalculate runs the snapshot cascade from `from` for one head, or for
// every head of the account when headID is empty.
func (e *Engine) Recalculate(ctx context.Context, accountID AccountID, headID LedgerHeadID, from time.Time) (RecalculationResult, error) {
	var result RecalculationResult
	err := e.atomically(ctx, func(t *txn) error {
		var heads []LedgerHead
		if headID != "" {
			head, err := t.GetLedgerHead(ctx, headID)
			if err != nil {
				return err
			}
			if head.AccountID != accountID {
				return &ValidationError{Field: "ledger_head_id", Message: fmt.Sprintf("head %s does not belong to account %s", headID, accountID)}
			}
			heads = []LedgerHead{*head}
		} else {
			var err error
			if _, err = t.GetAccount(ctx, accountID); err != nil {
				return err
			}
			if heads, err = t.ListLedgerHeads(ctx, accountID); err != nil {
				return err
			}
		}

		var err error
		result, err = e.recalculateHeads(ctx, t, accountID, heads, from)
		if err != nil {
			return err
		}
		return t.record(ctx, "account", string(accountID), AuditSnapshotsRecalced, map[string]string{
			"from":         Day(from).Format("2006-01-02"),
			"heads":        fmt.Sprint(len(heads)),
			"failed_heads": fmt.Sprint(len(result.Failures)),
		})
	})
	if err != nil {
		return RecalculationResult{}, err
	}
	return result, nil
}

// recalculateHeads cascades each head in turn. Storage failures abort;
// anything else is logged and recorded so the remaining heads still run.
func (e *Engine) recalculateHeads(ctx context.Context, t *txn, accountID AccountID, heads []LedgerHead, from time.Time) (RecalculationResult, error) {
	var result RecalculationResult
	for _, head := range heads {
		rows, err := RecalculateMonthlySnapshots(ctx, t, accountID, head.ID, from, t.asOf)
		if err != nil {
			if errors.Is(err, ErrStorage) {
				return result, err
			}
			e.logger().Error("snapshot recalculation failed",
				"account_id", accountID, "ledger_head_id", head.ID, "from", Day(from).Format("2006-01-02"), "error", err)
			result.Failures = append(result.Failures, HeadFailure{LedgerHeadID: head.ID, Err: err})
			continue
		}
		result.Updated = append(result.Updated, rows...)
	}
	return result, nil
}
