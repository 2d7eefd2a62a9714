/*
Package sqlite provides a SQLite-backed implementation of books.TxStore.

PURPOSE:
  Persists accounts, ledger heads, transactions, cheques, monthly snapshots,
  account periods and the audit log. In production, the same patterns apply
  to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  accounts:                Account totals and last_closed_date
  ledger_heads:            Running balance per head (current = cash + bank)
  transactions:            Postings, status pending/completed/cancelled
  transaction_items:       Double-entry decomposition of each transaction
  cheques:                 Deferred-effect instruments, 1:1 with a transaction
  monthly_ledger_balances: One snapshot per (account, head, month, year)
  account_periods:         The open/closed flag, one row per account month
  audit_log:               Append-only trail written in the same transaction

UNIQUE INDEXES:
  - idx_transactions_receipt:   (booklet_id, receipt_no) for booklet receipts
  - monthly_ledger_balances:    (account_id, ledger_head_id, month, year)
  - idx_account_periods_open:   one is_open row per account (partial index)
  Violations surface as books.ErrUniqueConstraint.

MONEY AND DATES:
  Amounts are decimal.Decimal stored as TEXT (decimal implements
  sql.Scanner and driver.Valuer). Calendar dates are "2006-01-02";
  timestamps are fixed-width UTC so they sort lexically.

CONCURRENCY:
  One connection (SetMaxOpenConns(1)) and a writer mutex around WithTx.
  A second writer blocks until the first commits. This also keeps
  ":memory:" databases shared across calls.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/books.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := books.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - books/store.go: Interface definitions
  - books/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/bookkeeping-engine/books"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements books.Store over a querier.
type conn struct {
	q querier
}

// Store implements books.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

var _ books.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE COLLATE NOCASE,
		opening_balance TEXT NOT NULL DEFAULT '0',
		closing_balance TEXT NOT NULL DEFAULT '0',
		cash_balance TEXT NOT NULL DEFAULT '0',
		bank_balance TEXT NOT NULL DEFAULT '0',
		last_closed_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ledger_heads (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		name TEXT NOT NULL,
		head_type TEXT NOT NULL,
		current_balance TEXT NOT NULL DEFAULT '0',
		cash_balance TEXT NOT NULL DEFAULT '0',
		bank_balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		UNIQUE(account_id, name)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		ledger_head_id TEXT NOT NULL REFERENCES ledger_heads(id),
		donor_id TEXT,
		booklet_id TEXT,
		receipt_no TEXT,
		amount TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		cash_type TEXT NOT NULL,
		cash_amount TEXT NOT NULL,
		bank_amount TEXT NOT NULL,
		tx_date TEXT NOT NULL,
		status TEXT NOT NULL,
		narration TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Receipt numbers are unique per booklet
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_receipt
		ON transactions(booklet_id, receipt_no) WHERE booklet_id IS NOT NULL;

	-- Balance calculation (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_head_date
		ON transactions(account_id, ledger_head_id, tx_date);

	CREATE TABLE IF NOT EXISTS transaction_items (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		ledger_head_id TEXT NOT NULL REFERENCES ledger_heads(id),
		amount TEXT NOT NULL,
		side TEXT NOT NULL CHECK (side IN ('+', '-'))
	);

	CREATE INDEX IF NOT EXISTS idx_transaction_items_tx
		ON transaction_items(transaction_id);

	CREATE TABLE IF NOT EXISTS cheques (
		id TEXT PRIMARY KEY,
		tx_id TEXT NOT NULL UNIQUE REFERENCES transactions(id),
		account_id TEXT NOT NULL REFERENCES accounts(id),
		ledger_head_id TEXT NOT NULL REFERENCES ledger_heads(id),
		cheque_number TEXT NOT NULL,
		bank_name TEXT,
		issue_date TEXT NOT NULL,
		due_date TEXT,
		status TEXT NOT NULL,
		clearing_date TEXT,
		cancel_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cheques_account_status
		ON cheques(account_id, status);

	CREATE TABLE IF NOT EXISTS monthly_ledger_balances (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		ledger_head_id TEXT NOT NULL REFERENCES ledger_heads(id),
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		opening_balance TEXT NOT NULL,
		receipts TEXT NOT NULL,
		payments TEXT NOT NULL,
		closing_balance TEXT NOT NULL,
		cash_in_hand TEXT NOT NULL,
		cash_in_bank TEXT NOT NULL,
		UNIQUE(account_id, ledger_head_id, month, year)
	);

	CREATE TABLE IF NOT EXISTS account_periods (
		account_id TEXT NOT NULL REFERENCES accounts(id),
		month INTEGER NOT NULL,
		year INTEGER NOT NULL,
		is_open INTEGER NOT NULL DEFAULT 0,
		opened_at TEXT NOT NULL,
		closed_at TEXT,
		PRIMARY KEY (account_id, month, year)
	);

	-- CRITICAL: at most one open period per account
	CREATE UNIQUE INDEX IF NOT EXISTS idx_account_periods_open
		ON account_periods(account_id) WHERE is_open = 1;

	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		details_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_entity
		ON audit_log(entity_type, entity_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
// If fn returns error, transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(books.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return books.StorageError("begin transaction", err)
	}

	if err := fn(conn{q: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return books.StorageError("commit transaction", err)
	}
	return nil
}

// Reset deletes every row. Used when loading demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(st books.Store) error {
		c := st.(conn)
		tables := []string{
			"audit_log", "account_periods", "monthly_ledger_balances", "cheques",
			"transaction_items", "transactions", "ledger_heads", "accounts",
		}
		for _, t := range tables {
			if _, err := c.q.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return books.StorageError("reset "+t, err)
			}
		}
		return nil
	})
}

// =============================================================================
// ACCOUNTS AND LEDGER HEADS
// =============================================================================

func (c conn) CreateAccount(ctx context.Context, a books.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO accounts
		(id, name, opening_balance, closing_balance, cash_balance, bank_balance, last_closed_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.OpeningBalance, a.ClosingBalance, a.CashBalance, a.BankBalance,
		nullDate(a.LastClosedDate), formatTimestamp(a.CreatedAt))
	return mapErr("create account", err)
}

func (c conn) UpdateAccount(ctx context.Context, a books.Account) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, opening_balance = ?, closing_balance = ?, cash_balance = ?,
		    bank_balance = ?, last_closed_date = ?
		WHERE id = ?
	`, a.Name, a.OpeningBalance, a.ClosingBalance, a.CashBalance, a.BankBalance,
		nullDate(a.LastClosedDate), a.ID)
	if err != nil {
		return mapErr("update account", err)
	}
	return requireRow(res, "account", string(a.ID))
}

func (c conn) GetAccount(ctx context.Context, id books.AccountID) (*books.Account, error) {
	var a books.Account
	var lastClosed sql.NullString
	var createdAt string
	err := c.q.QueryRowContext(ctx, `
		SELECT id, name, opening_balance, closing_balance, cash_balance, bank_balance,
		       last_closed_date, created_at
		FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &a.Name, &a.OpeningBalance, &a.ClosingBalance, &a.CashBalance,
		&a.BankBalance, &lastClosed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &books.NotFoundError{Entity: "account", ID: string(id)}
	}
	if err != nil {
		return nil, books.StorageError("get account", err)
	}
	a.LastClosedDate = parseNullDate(lastClosed)
	a.CreatedAt = parseTimestamp(createdAt)
	return &a, nil
}

func (c conn) CreateLedgerHead(ctx context.Context, h books.LedgerHead) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO ledger_heads
		(id, account_id, name, head_type, current_balance, cash_balance, bank_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.AccountID, h.Name, h.HeadType, h.CurrentBalance, h.CashBalance, h.BankBalance,
		formatTimestamp(h.CreatedAt))
	return mapErr("create ledger head", err)
}

func (c conn) UpdateLedgerHeadBalances(ctx context.Context, h books.LedgerHead) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE ledger_heads SET current_balance = ?, cash_balance = ?, bank_balance = ?
		WHERE id = ?
	`, h.CurrentBalance, h.CashBalance, h.BankBalance, h.ID)
	if err != nil {
		return mapErr("update ledger head", err)
	}
	return requireRow(res, "ledger head", string(h.ID))
}

const headColumns = `id, account_id, name, head_type, current_balance, cash_balance, bank_balance, created_at`

func scanHead(row interface{ Scan(...any) error }) (books.LedgerHead, error) {
	var h books.LedgerHead
	var createdAt string
	err := row.Scan(&h.ID, &h.AccountID, &h.Name, &h.HeadType, &h.CurrentBalance,
		&h.CashBalance, &h.BankBalance, &createdAt)
	h.CreatedAt = parseTimestamp(createdAt)
	return h, err
}

func (c conn) GetLedgerHead(ctx context.Context, id books.LedgerHeadID) (*books.LedgerHead, error) {
	h, err := scanHead(c.q.QueryRowContext(ctx, `SELECT `+headColumns+` FROM ledger_heads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &books.NotFoundError{Entity: "ledger head", ID: string(id)}
	}
	if err != nil {
		return nil, books.StorageError("get ledger head", err)
	}
	return &h, nil
}

// ListLedgerHeads returns the account's heads in insertion order.
func (c conn) ListLedgerHeads(ctx context.Context, accountID books.AccountID) ([]books.LedgerHead, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT `+headColumns+` FROM ledger_heads WHERE account_id = ? ORDER BY rowid`, accountID)
	if err != nil {
		return nil, books.StorageError("list ledger heads", err)
	}
	defer rows.Close()

	var heads []books.LedgerHead
	for rows.Next() {
		h, err := scanHead(rows)
		if err != nil {
			return nil, books.StorageError("scan ledger head", err)
		}
		heads = append(heads, h)
	}
	return heads, storageErr("list ledger heads", rows.Err())
}

// =============================================================================
// TRANSACTIONS AND ITEMS
// =============================================================================

func (c conn) InsertTransaction(ctx context.Context, tx books.Transaction, items []books.TransactionItem) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, account_id, ledger_head_id, donor_id, booklet_id, receipt_no, amount, tx_type,
		 cash_type, cash_amount, bank_amount, tx_date, status, narration, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID,
		tx.AccountID,
		tx.LedgerHeadID,
		nullString(tx.DonorID),
		nullString(tx.BookletID),
		nullString(tx.ReceiptNo),
		tx.Amount,
		tx.TxType,
		tx.CashType,
		tx.CashAmount,
		tx.BankAmount,
		tx.TxDate.Format(dateLayout),
		tx.Status,
		nullString(tx.Narration),
		nullString(tx.CreatedBy),
		formatTimestamp(tx.CreatedAt),
	)
	if err != nil {
		return mapErr("insert transaction", err)
	}

	for _, item := range items {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO transaction_items (id, transaction_id, ledger_head_id, amount, side)
			VALUES (?, ?, ?, ?, ?)
		`, item.ID, item.TransactionID, item.LedgerHeadID, item.Amount, item.Side)
		if err != nil {
			return mapErr("insert transaction item", err)
		}
	}
	return nil
}

func (c conn) UpdateTransactionStatus(ctx context.Context, id books.TransactionID, status books.TxStatus) error {
	res, err := c.q.ExecContext(ctx, `UPDATE transactions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return mapErr("update transaction status", err)
	}
	return requireRow(res, "transaction", string(id))
}

const txColumns = `id, account_id, ledger_head_id, donor_id, booklet_id, receipt_no, amount, tx_type,
	cash_type, cash_amount, bank_amount, tx_date, status, narration, created_by, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (books.Transaction, error) {
	var tx books.Transaction
	var donor, booklet, receipt, narration, createdBy sql.NullString
	var txDate, createdAt string
	err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.LedgerHeadID, &donor, &booklet, &receipt,
		&tx.Amount, &tx.TxType, &tx.CashType, &tx.CashAmount, &tx.BankAmount,
		&txDate, &tx.Status, &narration, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, err
	}
	tx.DonorID = donor.String
	tx.BookletID = booklet.String
	tx.ReceiptNo = receipt.String
	tx.Narration = narration.String
	tx.CreatedBy = createdBy.String
	tx.TxDate = parseDate(txDate)
	tx.CreatedAt = parseTimestamp(createdAt)
	return tx, nil
}

func (c conn) GetTransaction(ctx context.Context, id books.TransactionID) (*books.Transaction, error) {
	tx, err := scanTransaction(c.q.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &books.NotFoundError{Entity: "transaction", ID: string(id)}
	}
	if err != nil {
		return nil, books.StorageError("get transaction", err)
	}
	return &tx, nil
}

func (c conn) ListTransactions(ctx context.Context, f books.TransactionFilter) ([]books.Transaction, error) {
	var where []string
	var args []any
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.LedgerHeadID != "" {
		where = append(where, "ledger_head_id = ?")
		args = append(args, f.LedgerHeadID)
	}
	if f.From != nil {
		where = append(where, "tx_date >= ?")
		args = append(args, books.Day(*f.From).Format(dateLayout))
	}
	if f.To != nil {
		where = append(where, "tx_date < ?")
		args = append(args, books.Day(*f.To).Format(dateLayout))
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + txColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY tx_date ASC, created_at ASC, rowid ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, books.StorageError("list transactions", err)
	}
	defer rows.Close()

	var txs []books.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, books.StorageError("scan transaction", err)
		}
		txs = append(txs, tx)
	}
	return txs, storageErr("list transactions", rows.Err())
}

func (c conn) ListTransactionItems(ctx context.Context, id books.TransactionID) ([]books.TransactionItem, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, transaction_id, ledger_head_id, amount, side
		FROM transaction_items WHERE transaction_id = ? ORDER BY rowid
	`, id)
	if err != nil {
		return nil, books.StorageError("list transaction items", err)
	}
	defer rows.Close()

	var items []books.TransactionItem
	for rows.Next() {
		var item books.TransactionItem
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.LedgerHeadID, &item.Amount, &item.Side); err != nil {
			return nil, books.StorageError("scan transaction item", err)
		}
		items = append(items, item)
	}
	return items, storageErr("list transaction items", rows.Err())
}

// =============================================================================
// CHEQUES
// =============================================================================

func (c conn) InsertCheque(ctx context.Context, ch books.Cheque) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO cheques
		(id, tx_id, account_id, ledger_head_id, cheque_number, bank_name, issue_date,
		 due_date, status, clearing_date, cancel_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ch.ID, ch.TxID, ch.AccountID, ch.LedgerHeadID, ch.ChequeNumber, nullString(ch.BankName),
		ch.IssueDate.Format(dateLayout), nullDate(ch.DueDate), ch.Status,
		nullDate(ch.ClearingDate), nullString(ch.CancelReason))
	return mapErr("insert cheque", err)
}

func (c conn) UpdateCheque(ctx context.Context, ch books.Cheque) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE cheques SET status = ?, clearing_date = ?, cancel_reason = ?, bank_name = ?, due_date = ?
		WHERE id = ?
	`, ch.Status, nullDate(ch.ClearingDate), nullString(ch.CancelReason), nullString(ch.BankName),
		nullDate(ch.DueDate), ch.ID)
	if err != nil {
		return mapErr("update cheque", err)
	}
	return requireRow(res, "cheque", string(ch.ID))
}

const chequeColumns = `id, tx_id, account_id, ledger_head_id, cheque_number, bank_name, issue_date,
	due_date, status, clearing_date, cancel_reason`

func scanCheque(row interface{ Scan(...any) error }) (books.Cheque, error) {
	var ch books.Cheque
	var bank, due, clearing, reason sql.NullString
	var issue string
	err := row.Scan(&ch.ID, &ch.TxID, &ch.AccountID, &ch.LedgerHeadID, &ch.ChequeNumber,
		&bank, &issue, &due, &ch.Status, &clearing, &reason)
	if err != nil {
		return ch, err
	}
	ch.BankName = bank.String
	ch.IssueDate = parseDate(issue)
	ch.DueDate = parseNullDate(due)
	ch.ClearingDate = parseNullDate(clearing)
	ch.CancelReason = reason.String
	return ch, nil
}

func (c conn) GetCheque(ctx context.Context, id books.ChequeID) (*books.Cheque, error) {
	ch, err := scanCheque(c.q.QueryRowContext(ctx, `SELECT `+chequeColumns+` FROM cheques WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &books.NotFoundError{Entity: "cheque", ID: string(id)}
	}
	if err != nil {
		return nil, books.StorageError("get cheque", err)
	}
	return &ch, nil
}

func (c conn) ListCheques(ctx context.Context, f books.ChequeFilter) ([]books.Cheque, error) {
	var where []string
	var args []any
	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.TxID != "" {
		where = append(where, "tx_id = ?")
		args = append(args, f.TxID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + chequeColumns + ` FROM cheques`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY issue_date ASC, rowid ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, books.StorageError("list cheques", err)
	}
	defer rows.Close()

	var cheques []books.Cheque
	for rows.Next() {
		ch, err := scanCheque(rows)
		if err != nil {
			return nil, books.StorageError("scan cheque", err)
		}
		cheques = append(cheques, ch)
	}
	return cheques, storageErr("list cheques", rows.Err())
}

// =============================================================================
// MONTHLY SNAPSHOTS
// =============================================================================

// The open flag is joined in from account_periods; it is never stored on
// the snapshot row.
const balanceSelect = `
	SELECT b.id, b.account_id, b.ledger_head_id, b.month, b.year, b.opening_balance, b.receipts,
	       b.payments, b.closing_balance, b.cash_in_hand, b.cash_in_bank,
	       p.is_open IS NOT NULL
	FROM monthly_ledger_balances b
	LEFT JOIN account_periods p
	       ON p.account_id = b.account_id AND p.month = b.month AND p.year = b.year AND p.is_open = 1
`

func scanBalance(row interface{ Scan(...any) error }) (books.MonthlyLedgerBalance, error) {
	var b books.MonthlyLedgerBalance
	var month, year int
	err := row.Scan(&b.ID, &b.AccountID, &b.LedgerHeadID, &month, &year, &b.OpeningBalance,
		&b.Receipts, &b.Payments, &b.ClosingBalance, &b.CashInHand, &b.CashInBank, &b.IsOpen)
	b.Month = books.NewMonth(year, time.Month(month))
	return b, err
}

func (c conn) GetMonthlyBalance(ctx context.Context, accountID books.AccountID, headID books.LedgerHeadID, month books.Month) (*books.MonthlyLedgerBalance, error) {
	b, err := scanBalance(c.q.QueryRowContext(ctx, balanceSelect+`
		WHERE b.account_id = ? AND b.ledger_head_id = ? AND b.month = ? AND b.year = ?
	`, accountID, headID, int(month.Month), month.Year))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, books.StorageError("get monthly balance", err)
	}
	return &b, nil
}

func (c conn) ListMonthlyBalances(ctx context.Context, accountID books.AccountID, month books.Month) ([]books.MonthlyLedgerBalance, error) {
	rows, err := c.q.QueryContext(ctx, balanceSelect+`
		JOIN ledger_heads h ON h.id = b.ledger_head_id
		WHERE b.account_id = ? AND b.month = ? AND b.year = ?
		ORDER BY h.rowid
	`, accountID, int(month.Month), month.Year)
	if err != nil {
		return nil, books.StorageError("list monthly balances", err)
	}
	defer rows.Close()

	var result []books.MonthlyLedgerBalance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, books.StorageError("scan monthly balance", err)
		}
		result = append(result, b)
	}
	return result, storageErr("list monthly balances", rows.Err())
}

func (c conn) LatestSnapshotMonth(ctx context.Context, accountID books.AccountID, headID books.LedgerHeadID) (*books.Month, error) {
	var month, year int
	err := c.q.QueryRowContext(ctx, `
		SELECT month, year FROM monthly_ledger_balances
		WHERE account_id = ? AND ledger_head_id = ?
		ORDER BY year DESC, month DESC LIMIT 1
	`, accountID, headID).Scan(&month, &year)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, books.StorageError("latest snapshot month", err)
	}
	m := books.NewMonth(year, time.Month(month))
	return &m, nil
}

// UpsertMonthlyBalance keeps the stored id when the row already exists.
func (c conn) UpsertMonthlyBalance(ctx context.Context, b books.MonthlyLedgerBalance) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO monthly_ledger_balances
		(id, account_id, ledger_head_id, month, year, opening_balance, receipts, payments,
		 closing_balance, cash_in_hand, cash_in_bank)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, ledger_head_id, month, year) DO UPDATE SET
			opening_balance = excluded.opening_balance,
			receipts = excluded.receipts,
			payments = excluded.payments,
			closing_balance = excluded.closing_balance,
			cash_in_hand = excluded.cash_in_hand,
			cash_in_bank = excluded.cash_in_bank
	`, b.ID, b.AccountID, b.LedgerHeadID, int(b.Month.Month), b.Month.Year, b.OpeningBalance,
		b.Receipts, b.Payments, b.ClosingBalance, b.CashInHand, b.CashInBank)
	return mapErr("upsert monthly balance", err)
}

// =============================================================================
// ACCOUNT PERIODS
// =============================================================================

func scanPeriod(row interface{ Scan(...any) error }) (books.AccountPeriod, error) {
	var p books.AccountPeriod
	var month, year int
	var openedAt string
	var closedAt sql.NullString
	err := row.Scan(&p.AccountID, &month, &year, &p.IsOpen, &openedAt, &closedAt)
	if err != nil {
		return p, err
	}
	p.Month = books.NewMonth(year, time.Month(month))
	p.OpenedAt = parseTimestamp(openedAt)
	if closedAt.Valid {
		t := parseTimestamp(closedAt.String)
		p.ClosedAt = &t
	}
	return p, nil
}

func (c conn) GetOpenPeriod(ctx context.Context, accountID books.AccountID) (*books.AccountPeriod, error) {
	p, err := scanPeriod(c.q.QueryRowContext(ctx, `
		SELECT account_id, month, year, is_open, opened_at, closed_at
		FROM account_periods WHERE account_id = ? AND is_open = 1
	`, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, books.StorageError("get open period", err)
	}
	return &p, nil
}

func (c conn) GetPeriod(ctx context.Context, accountID books.AccountID, month books.Month) (*books.AccountPeriod, error) {
	p, err := scanPeriod(c.q.QueryRowContext(ctx, `
		SELECT account_id, month, year, is_open, opened_at, closed_at
		FROM account_periods WHERE account_id = ? AND month = ? AND year = ?
	`, accountID, int(month.Month), month.Year))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, books.StorageError("get period", err)
	}
	return &p, nil
}

func (c conn) SavePeriod(ctx context.Context, p books.AccountPeriod) error {
	var closedAt sql.NullString
	if p.ClosedAt != nil {
		closedAt = sql.NullString{String: formatTimestamp(*p.ClosedAt), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO account_periods (account_id, month, year, is_open, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, month, year) DO UPDATE SET
			is_open = excluded.is_open,
			opened_at = excluded.opened_at,
			closed_at = excluded.closed_at
	`, p.AccountID, int(p.Month.Month), p.Month.Year, p.IsOpen, formatTimestamp(p.OpenedAt), closedAt)
	return mapErr("save period", err)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (c conn) AppendAudit(ctx context.Context, e books.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, entity_type, entity_id, action, actor_id, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.EntityType, e.EntityID, e.Action, e.ActorID, string(details), formatTimestamp(e.Timestamp))
	return mapErr("append audit", err)
}

// ListAudit returns matching entries, newest first.
func (c conn) ListAudit(ctx context.Context, f books.AuditFilter) ([]books.AuditEntry, error) {
	var where []string
	var args []any
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, f.EntityType)
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	query := `SELECT id, entity_type, entity_id, action, actor_id, details_json, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, books.StorageError("list audit", err)
	}
	defer rows.Close()

	var entries []books.AuditEntry
	for rows.Next() {
		var e books.AuditEntry
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.ActorID, &details, &createdAt); err != nil {
			return nil, books.StorageError("scan audit entry", err)
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %s: %w", e.ID, err)
			}
		}
		e.Timestamp = parseTimestamp(createdAt)
		entries = append(entries, e)
	}
	return entries, storageErr("list audit", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func parseNullDate(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseDate(s.String)
	return &t
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(timestampLayout, s)
	return t
}

func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return books.StorageError("rows affected", err)
	}
	if n == 0 {
		return &books.NotFoundError{Entity: entity, ID: id}
	}
	return nil
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return books.StorageError(op, err)
}

// mapErr turns constraint violations into books.ErrUniqueConstraint and
// everything else into books.ErrStorage.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%s: %w: %v", op, books.ErrUniqueConstraint, err)
	}
	return books.StorageError(op, err)
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
