/*
Package books provides the monthly ledger closure and balance-propagation engine.

PURPOSE:
  An account owns ledger heads ("Cash", "Donations", ...). Every head keeps a
  live running balance split into cash and bank parts, and one stored
  snapshot per calendar month (opening, receipts, payments, closing). Exactly
  one month per account is open for posting. Posting into or opening an
  earlier month recomputes the chain of later months.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account / LedgerHead: the entities balances belong to
  - Transaction / TransactionItem: double-entry postings
  - Cheque: deferred-effect instrument (pending until cleared)
  - Balance / Delta: total, cash and bank parts moved together

DESIGN PRINCIPLES:
  1. Precision: all money is decimal.Decimal, never float64
  2. Deferred effects: a pending cheque changes no balance
  3. Atomicity: every mutation runs inside one TxStore.WithTx call
  4. Determinism: Engine.Now drives month decisions and every timestamp the
     engine writes; stores only stamp rows that arrive without one

SEE ALSO:
  - transaction.go: PostTransaction
  - cheque.go: cheque state machine
  - balance.go: balance calculator and snapshot cascade
  - closure.go: period open/close orchestration
*/
package books

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type LedgerHeadID string
type TransactionID string
type ChequeID string

// =============================================================================
// ENUMERATIONS
// =============================================================================

type HeadType string

const (
	HeadDebit  HeadType = "debit"
	HeadCredit HeadType = "credit"
)

func (h HeadType) Valid() bool { return h == HeadDebit || h == HeadCredit }

type TxType string

const (
	TxCredit TxType = "credit" // money received
	TxDebit  TxType = "debit"  // money paid out
)

func (t TxType) Valid() bool { return t == TxCredit || t == TxDebit }

// Sign is +1 for credits and -1 for debits.
func (t TxType) Sign() decimal.Decimal {
	if t == TxDebit {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type CashType string

const (
	CashTypeCash     CashType = "cash"
	CashTypeBank     CashType = "bank"
	CashTypeUPI      CashType = "upi"
	CashTypeCard     CashType = "card"
	CashTypeNetbank  CashType = "netbank"
	CashTypeCheque   CashType = "cheque"
	CashTypeMultiple CashType = "multiple"
)

func (c CashType) Valid() bool {
	switch c {
	case CashTypeCash, CashTypeBank, CashTypeUPI, CashTypeCard,
		CashTypeNetbank, CashTypeCheque, CashTypeMultiple:
		return true
	}
	return false
}

// settlesToBank reports whether the whole amount lands in the bank part.
func (c CashType) settlesToBank() bool {
	switch c {
	case CashTypeBank, CashTypeUPI, CashTypeCard, CashTypeNetbank, CashTypeCheque:
		return true
	}
	return false
}

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxCancelled TxStatus = "cancelled"
)

type ChequeStatus string

const (
	ChequePending   ChequeStatus = "pending"
	ChequeCleared   ChequeStatus = "cleared"
	ChequeCancelled ChequeStatus = "cancelled"
)

type ItemSide string

const (
	SidePlus  ItemSide = "+"
	SideMinus ItemSide = "-"
)

func (s ItemSide) Valid() bool { return s == SidePlus || s == SideMinus }

func (s ItemSide) Sign() decimal.Decimal {
	if s == SideMinus {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// =============================================================================
// ENTITIES
// =============================================================================

// Account holds denormalized totals across its ledger heads.
type Account struct {
	ID             AccountID
	Name           string
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	CashBalance    decimal.Decimal
	BankBalance    decimal.Decimal
	LastClosedDate *time.Time // last day of the most recently closed period
	CreatedAt      time.Time
}

// LedgerHead is a running-balance bucket inside an account.
//
// INVARIANT: CurrentBalance == CashBalance + BankBalance after every commit.
type LedgerHead struct {
	ID             LedgerHeadID
	AccountID      AccountID
	Name           string
	HeadType       HeadType
	CurrentBalance decimal.Decimal
	CashBalance    decimal.Decimal
	BankBalance    decimal.Decimal
	CreatedAt      time.Time
}

// Balance returns the head's running balance split.
func (h LedgerHead) Balance() Balance {
	return Balance{Total: h.CurrentBalance, Cash: h.CashBalance, Bank: h.BankBalance}
}

// Apply moves the running balances by d.
func (h *LedgerHead) Apply(d Balance) {
	h.CurrentBalance = h.CurrentBalance.Add(d.Total)
	h.CashBalance = h.CashBalance.Add(d.Cash)
	h.BankBalance = h.BankBalance.Add(d.Bank)
}

type Transaction struct {
	ID           TransactionID
	AccountID    AccountID
	LedgerHeadID LedgerHeadID
	DonorID      string
	BookletID    string
	ReceiptNo    string
	Amount       decimal.Decimal
	TxType       TxType
	CashType     CashType
	CashAmount   decimal.Decimal
	BankAmount   decimal.Decimal
	TxDate       time.Time
	Status       TxStatus
	Narration    string
	CreatedBy    string
	CreatedAt    time.Time
}

// Delta is the signed effect of the transaction on its primary head.
// It does not look at Status; callers decide whether the effect applies.
func (t Transaction) Delta() Balance {
	sign := t.TxType.Sign()
	return Balance{
		Total: t.Amount.Mul(sign),
		Cash:  t.CashAmount.Mul(sign),
		Bank:  t.BankAmount.Mul(sign),
	}
}

// Effective reports whether the transaction counts toward balances.
// Pending (uncleared cheques) and cancelled transactions never do.
func (t Transaction) Effective() bool { return t.Status == TxCompleted }

type TransactionItem struct {
	ID            string
	TransactionID TransactionID
	LedgerHeadID  LedgerHeadID
	Amount        decimal.Decimal
	Side          ItemSide
}

func (i TransactionItem) Signed() decimal.Decimal { return i.Amount.Mul(i.Side.Sign()) }

type Cheque struct {
	ID           ChequeID
	TxID         TransactionID
	AccountID    AccountID
	LedgerHeadID LedgerHeadID
	ChequeNumber string
	BankName     string
	IssueDate    time.Time
	DueDate      *time.Time
	Status       ChequeStatus
	ClearingDate *time.Time // set iff Status == ChequeCleared
	CancelReason string
}

// =============================================================================
// BALANCE - total with its cash and bank parts
// =============================================================================

// Balance is a total together with its cash/bank split. It is used both for
// absolute balances and for deltas.
type Balance struct {
	Total decimal.Decimal
	Cash  decimal.Decimal
	Bank  decimal.Decimal
}

func (b Balance) Add(o Balance) Balance {
	return Balance{Total: b.Total.Add(o.Total), Cash: b.Cash.Add(o.Cash), Bank: b.Bank.Add(o.Bank)}
}

func (b Balance) Neg() Balance {
	return Balance{Total: b.Total.Neg(), Cash: b.Cash.Neg(), Bank: b.Bank.Neg()}
}

func (b Balance) Equal(o Balance) bool {
	return b.Total.Equal(o.Total) && b.Cash.Equal(o.Cash) && b.Bank.Equal(o.Bank)
}
