package books

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONTHLY SNAPSHOT - One row per (account, ledger head, month)
// =============================================================================

// MonthlyLedgerBalance is the stored summary of one head for one month.
//
// INVARIANT: ClosingBalance == OpeningBalance + Receipts - Payments
// INVARIANT: ClosingBalance == CashInHand + CashInBank
//
// IsOpen is not persisted on the row. It is projected from the account's
// AccountPeriod when rows are read, so all heads of the open month report
// true and no per-head flag can drift.
type MonthlyLedgerBalance struct {
	ID             string
	AccountID      AccountID
	LedgerHeadID   LedgerHeadID
	Month          Month
	OpeningBalance decimal.Decimal
	Receipts       decimal.Decimal
	Payments       decimal.Decimal
	ClosingBalance decimal.Decimal
	CashInHand     decimal.Decimal
	CashInBank     decimal.Decimal
	IsOpen         bool
}

// Closing returns the closing balance with its cash/bank split.
func (b MonthlyLedgerBalance) Closing() Balance {
	return Balance{Total: b.ClosingBalance, Cash: b.CashInHand, Bank: b.CashInBank}
}

// SameFigures compares stored amounts, ignoring the projected open flag.
func (b MonthlyLedgerBalance) SameFigures(o MonthlyLedgerBalance) bool {
	return b.ID == o.ID &&
		b.AccountID == o.AccountID &&
		b.LedgerHeadID == o.LedgerHeadID &&
		b.Month.Equal(o.Month) &&
		b.OpeningBalance.Equal(o.OpeningBalance) &&
		b.Receipts.Equal(o.Receipts) &&
		b.Payments.Equal(o.Payments) &&
		b.ClosingBalance.Equal(o.ClosingBalance) &&
		b.CashInHand.Equal(o.CashInHand) &&
		b.CashInBank.Equal(o.CashInBank)
}

// =============================================================================
// ACCOUNT PERIOD - The open/closed flag, stored once per account month
// =============================================================================

type AccountPeriod struct {
	AccountID AccountID
	Month     Month
	IsOpen    bool
	OpenedAt  time.Time
	ClosedAt  *time.Time
}
