/*
store.go - Persistence interface for the bookkeeping engine

PURPOSE:
  Defines the boundary between the engine and the relational storage
  layer. The engine never talks SQL; it reads and writes through Store and
  wraps every mutation in TxStore.WithTx.

KEY INTERFACES:
  Reader:  lookups used by the balance calculator and validation
  Writer:  row writes (accounts, heads, transactions, cheques, snapshots,
           periods, audit entries)
  Store:   Reader + Writer
  TxStore: Store plus WithTx for all-or-nothing operations

LOOKUP CONVENTION:
  Entity getters (account, head, transaction, cheque) return a *NotFoundError
  for missing rows. Snapshot and period getters return (nil, nil), since a
  missing month is a normal state.

UNIQUE CONSTRAINTS (enforced by the store, surfaced as ErrUniqueConstraint):
  - transactions(booklet_id, receipt_no)
  - monthly_ledger_balances(account_id, ledger_head_id, month, year)
  - account_periods(account_id, month, year)
  - account_periods(account_id) WHERE is_open

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: production SQLite
  - books/store/memory.go: in-memory for tests
*/
package books

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// TransactionFilter selects transactions on one primary ledger head.
// From is inclusive, To is exclusive; nil bounds are open.
type TransactionFilter struct {
	AccountID    AccountID
	LedgerHeadID LedgerHeadID
	From         *time.Time
	To           *time.Time
	Statuses     []TxStatus // empty = any status
}

type ChequeFilter struct {
	AccountID AccountID
	TxID      TransactionID
	Status    ChequeStatus // empty = any status
}

// =============================================================================
// STORE
// =============================================================================

type Reader interface {
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	GetLedgerHead(ctx context.Context, id LedgerHeadID) (*LedgerHead, error)
	// ListLedgerHeads returns the account's heads in creation order.
	ListLedgerHeads(ctx context.Context, accountID AccountID) ([]LedgerHead, error)

	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactionItems(ctx context.Context, id TransactionID) ([]TransactionItem, error)
	// ListTransactions returns matching transactions ordered by tx_date, created_at.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	GetCheque(ctx context.Context, id ChequeID) (*Cheque, error)
	ListCheques(ctx context.Context, filter ChequeFilter) ([]Cheque, error)

	GetMonthlyBalance(ctx context.Context, accountID AccountID, headID LedgerHeadID, month Month) (*MonthlyLedgerBalance, error)
	ListMonthlyBalances(ctx context.Context, accountID AccountID, month Month) ([]MonthlyLedgerBalance, error)
	// LatestSnapshotMonth returns the latest month with a stored row for the head, or nil.
	LatestSnapshotMonth(ctx context.Context, accountID AccountID, headID LedgerHeadID) (*Month, error)

	GetOpenPeriod(ctx context.Context, accountID AccountID) (*AccountPeriod, error)
	GetPeriod(ctx context.Context, accountID AccountID, month Month) (*AccountPeriod, error)

	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type Writer interface {
	CreateAccount(ctx context.Context, a Account) error
	UpdateAccount(ctx context.Context, a Account) error
	CreateLedgerHead(ctx context.Context, h LedgerHead) error
	// UpdateLedgerHeadBalances writes the head's current/cash/bank balances.
	UpdateLedgerHeadBalances(ctx context.Context, h LedgerHead) error

	InsertTransaction(ctx context.Context, tx Transaction, items []TransactionItem) error
	UpdateTransactionStatus(ctx context.Context, id TransactionID, status TxStatus) error

	InsertCheque(ctx context.Context, c Cheque) error
	UpdateCheque(ctx context.Context, c Cheque) error

	// UpsertMonthlyBalance inserts or updates the row keyed by
	// (account, head, month). An existing row keeps its ID.
	UpsertMonthlyBalance(ctx context.Context, b MonthlyLedgerBalance) error

	// SavePeriod inserts or updates the period keyed by (account, month).
	SavePeriod(ctx context.Context, p AccountPeriod) error

	AppendAudit(ctx context.Context, e AuditEntry) error
}

type Store interface {
	Reader
	Writer
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
