// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/bookkeeping-engine/books"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements books.TxStore. Reads take the read lock; writes and
// WithTx take the write lock, so a second writer blocks until the first
// commits or rolls back.
type Memory struct {
	mu sync.RWMutex
	d  *data
}

var _ books.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

type snapshotKey struct {
	AccountID    books.AccountID
	LedgerHeadID books.LedgerHeadID
	Month        books.Month
}

type periodKey struct {
	AccountID books.AccountID
	Month     books.Month
}

// data holds the tables. Its methods assume the caller holds the lock.
type data struct {
	accounts  map[books.AccountID]books.Account
	heads     map[books.LedgerHeadID]books.LedgerHead
	headOrder []books.LedgerHeadID
	txs       map[books.TransactionID]books.Transaction
	txOrder   []books.TransactionID
	items     map[books.TransactionID][]books.TransactionItem
	receipts  map[string]books.TransactionID // booklet_id + "/" + receipt_no
	cheques   map[books.ChequeID]books.Cheque
	chequeTxs map[books.TransactionID]books.ChequeID
	chequeSeq []books.ChequeID
	balances  map[snapshotKey]books.MonthlyLedgerBalance
	periods   map[periodKey]books.AccountPeriod
	audit     []books.AuditEntry
}

func newData() *data {
	return &data{
		accounts:  make(map[books.AccountID]books.Account),
		heads:     make(map[books.LedgerHeadID]books.LedgerHead),
		txs:       make(map[books.TransactionID]books.Transaction),
		items:     make(map[books.TransactionID][]books.TransactionItem),
		receipts:  make(map[string]books.TransactionID),
		cheques:   make(map[books.ChequeID]books.Cheque),
		chequeTxs: make(map[books.TransactionID]books.ChequeID),
		balances:  make(map[snapshotKey]books.MonthlyLedgerBalance),
		periods:   make(map[periodKey]books.AccountPeriod),
	}
}

// clone deep-copies every table for rollback.
func (d *data) clone() *data {
	c := &data{
		accounts:  make(map[books.AccountID]books.Account, len(d.accounts)),
		heads:     make(map[books.LedgerHeadID]books.LedgerHead, len(d.heads)),
		headOrder: append([]books.LedgerHeadID(nil), d.headOrder...),
		txs:       make(map[books.TransactionID]books.Transaction, len(d.txs)),
		txOrder:   append([]books.TransactionID(nil), d.txOrder...),
		items:     make(map[books.TransactionID][]books.TransactionItem, len(d.items)),
		receipts:  make(map[string]books.TransactionID, len(d.receipts)),
		cheques:   make(map[books.ChequeID]books.Cheque, len(d.cheques)),
		chequeTxs: make(map[books.TransactionID]books.ChequeID, len(d.chequeTxs)),
		chequeSeq: append([]books.ChequeID(nil), d.chequeSeq...),
		balances:  make(map[snapshotKey]books.MonthlyLedgerBalance, len(d.balances)),
		periods:   make(map[periodKey]books.AccountPeriod, len(d.periods)),
		audit:     append([]books.AuditEntry(nil), d.audit...),
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.heads {
		c.heads[k] = v
	}
	for k, v := range d.txs {
		c.txs[k] = v
	}
	for k, v := range d.items {
		c.items[k] = append([]books.TransactionItem(nil), v...)
	}
	for k, v := range d.receipts {
		c.receipts[k] = v
	}
	for k, v := range d.cheques {
		c.cheques[k] = v
	}
	for k, v := range d.chequeTxs {
		c.chequeTxs[k] = v
	}
	for k, v := range d.balances {
		c.balances[k] = v
	}
	for k, v := range d.periods {
		c.periods[k] = v
	}
	return c
}

// =============================================================================
// LOCKING WRAPPERS
// =============================================================================

func read[T any](m *Memory, fn func(d *data) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.d)
}

func (m *Memory) write(fn func(d *data) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.d)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(books.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.d.clone()
	if err := fn(m.d); err != nil {
		m.d = saved
		return err
	}
	return nil
}

// Reset deletes everything.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d = newData()
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, id books.AccountID) (*books.Account, error) {
	return read(m, func(d *data) (*books.Account, error) { return d.GetAccount(ctx, id) })
}

func (m *Memory) GetLedgerHead(ctx context.Context, id books.LedgerHeadID) (*books.LedgerHead, error) {
	return read(m, func(d *data) (*books.LedgerHead, error) { return d.GetLedgerHead(ctx, id) })
}

func (m *Memory) ListLedgerHeads(ctx context.Context, accountID books.AccountID) ([]books.LedgerHead, error) {
	return read(m, func(d *data) ([]books.LedgerHead, error) { return d.ListLedgerHeads(ctx, accountID) })
}

func (m *Memory) GetTransaction(ctx context.Context, id books.TransactionID) (*books.Transaction, error) {
	return read(m, func(d *data) (*books.Transaction, error) { return d.GetTransaction(ctx, id) })
}

func (m *Memory) ListTransactionItems(ctx context.Context, id books.TransactionID) ([]books.TransactionItem, error) {
	return read(m, func(d *data) ([]books.TransactionItem, error) { return d.ListTransactionItems(ctx, id) })
}

func (m *Memory) ListTransactions(ctx context.Context, f books.TransactionFilter) ([]books.Transaction, error) {
	return read(m, func(d *data) ([]books.Transaction, error) { return d.ListTransactions(ctx, f) })
}

func (m *Memory) GetCheque(ctx context.Context, id books.ChequeID) (*books.Cheque, error) {
	return read(m, func(d *data) (*books.Cheque, error) { return d.GetCheque(ctx, id) })
}

func (m *Memory) ListCheques(ctx context.Context, f books.ChequeFilter) ([]books.Cheque, error) {
	return read(m, func(d *data) ([]books.Cheque, error) { return d.ListCheques(ctx, f) })
}

func (m *Memory) GetMonthlyBalance(ctx context.Context, accountID books.AccountID, headID books.LedgerHeadID, month books.Month) (*books.MonthlyLedgerBalance, error) {
	return read(m, func(d *data) (*books.MonthlyLedgerBalance, error) {
		return d.GetMonthlyBalance(ctx, accountID, headID, month)
	})
}

func (m *Memory) ListMonthlyBalances(ctx context.Context, accountID books.AccountID, month books.Month) ([]books.MonthlyLedgerBalance, error) {
	return read(m, func(d *data) ([]books.MonthlyLedgerBalance, error) {
		return d.ListMonthlyBalances(ctx, accountID, month)
	})
}

func (m *Memory) LatestSnapshotMonth(ctx context.Context, accountID books.AccountID, headID books.LedgerHeadID) (*books.Month, error) {
	return read(m, func(d *data) (*books.Month, error) { return d.LatestSnapshotMonth(ctx, accountID, headID) })
}

func (m *Memory) GetOpenPeriod(ctx context.Context, accountID books.AccountID) (*books.AccountPeriod, error) {
	return read(m, func(d *data) (*books.AccountPeriod, error) { return d.GetOpenPeriod(ctx, accountID) })
}

func (m *Memory) GetPeriod(ctx context.Context, accountID books.AccountID, month books.Month) (*books.AccountPeriod, error) {
	return read(m, func(d *data) (*books.AccountPeriod, error) { return d.GetPeriod(ctx, accountID, month) })
}

func (m *Memory) ListAudit(ctx context.Context, f books.AuditFilter) ([]books.AuditEntry, error) {
	return read(m, func(d *data) ([]books.AuditEntry, error) { return d.ListAudit(ctx, f) })
}

func (m *Memory) CreateAccount(ctx context.Context, a books.Account) error {
	return m.write(func(d *data) error { return d.CreateAccount(ctx, a) })
}

func (m *Memory) UpdateAccount(ctx context.Context, a books.Account) error {
	return m.write(func(d *data) error { return d.UpdateAccount(ctx, a) })
}

func (m *Memory) CreateLedgerHead(ctx context.Context, h books.LedgerHead) error {
	return m.write(func(d *data) error { return d.CreateLedgerHead(ctx, h) })
}

func (m *Memory) UpdateLedgerHeadBalances(ctx context.Context, h books.LedgerHead) error {
	return m.write(func(d *data) error { return d.UpdateLedgerHeadBalances(ctx, h) })
}

func (m *Memory) InsertTransaction(ctx context.Context, tx books.Transaction, items []books.TransactionItem) error {
	return m.write(func(d *data) error { return d.InsertTransaction(ctx, tx, items) })
}

func (m *Memory) UpdateTransactionStatus(ctx context.Context, id books.TransactionID, status books.TxStatus) error {
	return m.write(func(d *data) error { return d.UpdateTransactionStatus(ctx, id, status) })
}

func (m *Memory) InsertCheque(ctx context.Context, c books.Cheque) error {
	return m.write(func(d *data) error { return d.InsertCheque(ctx, c) })
}

func (m *Memory) UpdateCheque(ctx context.Context, c books.Cheque) error {
	return m.write(func(d *data) error { return d.UpdateCheque(ctx, c) })
}

func (m *Memory) UpsertMonthlyBalance(ctx context.Context, b books.MonthlyLedgerBalance) error {
	return m.write(func(d *data) error { return d.UpsertMonthlyBalance(ctx, b) })
}

func (m *Memory) SavePeriod(ctx context.Context, p books.AccountPeriod) error {
	return m.write(func(d *data) error { return d.SavePeriod(ctx, p) })
}

func (m *Memory) AppendAudit(ctx context.Context, e books.AuditEntry) error {
	return m.write(func(d *data) error { return d.AppendAudit(ctx, e) })
}

// =============================================================================
// TABLES - lock held by caller
// =============================================================================

func (d *data) GetAccount(_ context.Context, id books.AccountID) (*books.Account, error) {
	a, ok := d.accounts[id]
	if !ok {
		return nil, &books.NotFoundError{Entity: "account", ID: string(id)}
	}
	return &a, nil
}

func (d *data) GetLedgerHead(_ context.Context, id books.LedgerHeadID) (*books.LedgerHead, error) {
	h, ok := d.heads[id]
	if !ok {
		return nil, &books.NotFoundError{Entity: "ledger head", ID: string(id)}
	}
	return &h, nil
}

func (d *data) ListLedgerHeads(_ context.Context, accountID books.AccountID) ([]books.LedgerHead, error) {
	var result []books.LedgerHead
	for _, id := range d.headOrder {
		if h := d.heads[id]; h.AccountID == accountID {
			result = append(result, h)
		}
	}
	return result, nil
}

func (d *data) GetTransaction(_ context.Context, id books.TransactionID) (*books.Transaction, error) {
	tx, ok := d.txs[id]
	if !ok {
		return nil, &books.NotFoundError{Entity: "transaction", ID: string(id)}
	}
	return &tx, nil
}

func (d *data) ListTransactionItems(_ context.Context, id books.TransactionID) ([]books.TransactionItem, error) {
	return append([]books.TransactionItem(nil), d.items[id]...), nil
}

func (d *data) ListTransactions(_ context.Context, f books.TransactionFilter) ([]books.Transaction, error) {
	var result []books.Transaction
	for _, id := range d.txOrder {
		tx := d.txs[id]
		if f.AccountID != "" && tx.AccountID != f.AccountID {
			continue
		}
		if f.LedgerHeadID != "" && tx.LedgerHeadID != f.LedgerHeadID {
			continue
		}
		if f.From != nil && tx.TxDate.Before(*f.From) {
			continue
		}
		if f.To != nil && !tx.TxDate.Before(*f.To) {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, tx.Status) {
			continue
		}
		result = append(result, tx)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].TxDate.Equal(result[j].TxDate) {
			return result[i].TxDate.Before(result[j].TxDate)
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func hasStatus(statuses []books.TxStatus, s books.TxStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (d *data) GetCheque(_ context.Context, id books.ChequeID) (*books.Cheque, error) {
	c, ok := d.cheques[id]
	if !ok {
		return nil, &books.NotFoundError{Entity: "cheque", ID: string(id)}
	}
	return &c, nil
}

func (d *data) ListCheques(_ context.Context, f books.ChequeFilter) ([]books.Cheque, error) {
	var result []books.Cheque
	for _, id := range d.chequeSeq {
		c := d.cheques[id]
		if f.AccountID != "" && c.AccountID != f.AccountID {
			continue
		}
		if f.TxID != "" && c.TxID != f.TxID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (d *data) openMonth(accountID books.AccountID) *books.Month {
	for _, p := range d.periods {
		if p.AccountID == accountID && p.IsOpen {
			m := p.Month
			return &m
		}
	}
	return nil
}

func (d *data) project(b books.MonthlyLedgerBalance) books.MonthlyLedgerBalance {
	open := d.openMonth(b.AccountID)
	b.IsOpen = open != nil && open.Equal(b.Month)
	return b
}

func (d *data) GetMonthlyBalance(_ context.Context, accountID books.AccountID, headID books.LedgerHeadID, month books.Month) (*books.MonthlyLedgerBalance, error) {
	b, ok := d.balances[snapshotKey{AccountID: accountID, LedgerHeadID: headID, Month: month}]
	if !ok {
		return nil, nil
	}
	b = d.project(b)
	return &b, nil
}

func (d *data) ListMonthlyBalances(_ context.Context, accountID books.AccountID, month books.Month) ([]books.MonthlyLedgerBalance, error) {
	var result []books.MonthlyLedgerBalance
	for _, id := range d.headOrder {
		b, ok := d.balances[snapshotKey{AccountID: accountID, LedgerHeadID: id, Month: month}]
		if ok {
			result = append(result, d.project(b))
		}
	}
	return result, nil
}

func (d *data) LatestSnapshotMonth(_ context.Context, accountID books.AccountID, headID books.LedgerHeadID) (*books.Month, error) {
	var latest *books.Month
	for k := range d.balances {
		if k.AccountID != accountID || k.LedgerHeadID != headID {
			continue
		}
		if latest == nil || k.Month.After(*latest) {
			m := k.Month
			latest = &m
		}
	}
	return latest, nil
}

func (d *data) GetOpenPeriod(_ context.Context, accountID books.AccountID) (*books.AccountPeriod, error) {
	for _, p := range d.periods {
		if p.AccountID == accountID && p.IsOpen {
			return &p, nil
		}
	}
	return nil, nil
}

func (d *data) GetPeriod(_ context.Context, accountID books.AccountID, month books.Month) (*books.AccountPeriod, error) {
	p, ok := d.periods[periodKey{AccountID: accountID, Month: month}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListAudit returns matching entries, newest first.
func (d *data) ListAudit(_ context.Context, f books.AuditFilter) ([]books.AuditEntry, error) {
	var result []books.AuditEntry
	for i := len(d.audit) - 1; i >= 0; i-- {
		e := d.audit[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

func (d *data) CreateAccount(_ context.Context, a books.Account) error {
	if _, ok := d.accounts[a.ID]; ok {
		return books.ErrUniqueConstraint
	}
	for _, other := range d.accounts {
		if strings.EqualFold(other.Name, a.Name) {
			return fmt.Errorf("account name %q: %w", a.Name, books.ErrUniqueConstraint)
		}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	d.accounts[a.ID] = a
	return nil
}

func (d *data) UpdateAccount(_ context.Context, a books.Account) error {
	if _, ok := d.accounts[a.ID]; !ok {
		return &books.NotFoundError{Entity: "account", ID: string(a.ID)}
	}
	d.accounts[a.ID] = a
	return nil
}

func (d *data) CreateLedgerHead(_ context.Context, h books.LedgerHead) error {
	if _, ok := d.heads[h.ID]; ok {
		return books.ErrUniqueConstraint
	}
	if _, ok := d.accounts[h.AccountID]; !ok {
		return &books.NotFoundError{Entity: "account", ID: string(h.AccountID)}
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	d.heads[h.ID] = h
	d.headOrder = append(d.headOrder, h.ID)
	return nil
}

func (d *data) UpdateLedgerHeadBalances(_ context.Context, h books.LedgerHead) error {
	existing, ok := d.heads[h.ID]
	if !ok {
		return &books.NotFoundError{Entity: "ledger head", ID: string(h.ID)}
	}
	existing.CurrentBalance = h.CurrentBalance
	existing.CashBalance = h.CashBalance
	existing.BankBalance = h.BankBalance
	d.heads[h.ID] = existing
	return nil
}

func (d *data) InsertTransaction(_ context.Context, tx books.Transaction, items []books.TransactionItem) error {
	if _, ok := d.txs[tx.ID]; ok {
		return books.ErrUniqueConstraint
	}
	var receipt string
	if tx.BookletID != "" && tx.ReceiptNo != "" {
		receipt = tx.BookletID + "/" + tx.ReceiptNo
		if _, ok := d.receipts[receipt]; ok {
			return fmt.Errorf("receipt %s: %w", receipt, books.ErrUniqueConstraint)
		}
	}
	d.txs[tx.ID] = tx
	d.txOrder = append(d.txOrder, tx.ID)
	d.items[tx.ID] = append([]books.TransactionItem(nil), items...)
	if receipt != "" {
		d.receipts[receipt] = tx.ID
	}
	return nil
}

func (d *data) UpdateTransactionStatus(_ context.Context, id books.TransactionID, status books.TxStatus) error {
	tx, ok := d.txs[id]
	if !ok {
		return &books.NotFoundError{Entity: "transaction", ID: string(id)}
	}
	tx.Status = status
	d.txs[id] = tx
	return nil
}

func (d *data) InsertCheque(_ context.Context, c books.Cheque) error {
	if _, ok := d.cheques[c.ID]; ok {
		return books.ErrUniqueConstraint
	}
	if _, ok := d.chequeTxs[c.TxID]; ok {
		return books.ErrUniqueConstraint
	}
	d.cheques[c.ID] = c
	d.chequeTxs[c.TxID] = c.ID
	d.chequeSeq = append(d.chequeSeq, c.ID)
	return nil
}

func (d *data) UpdateCheque(_ context.Context, c books.Cheque) error {
	if _, ok := d.cheques[c.ID]; !ok {
		return &books.NotFoundError{Entity: "cheque", ID: string(c.ID)}
	}
	d.cheques[c.ID] = c
	return nil
}

func (d *data) UpsertMonthlyBalance(_ context.Context, b books.MonthlyLedgerBalance) error {
	k := snapshotKey{AccountID: b.AccountID, LedgerHeadID: b.LedgerHeadID, Month: b.Month}
	if existing, ok := d.balances[k]; ok {
		b.ID = existing.ID
	}
	b.IsOpen = false
	d.balances[k] = b
	return nil
}

func (d *data) SavePeriod(_ context.Context, p books.AccountPeriod) error {
	if p.IsOpen {
		if open := d.openMonth(p.AccountID); open != nil && !open.Equal(p.Month) {
			return fmt.Errorf("account %s already has %s open: %w", p.AccountID, *open, books.ErrUniqueConstraint)
		}
	}
	d.periods[periodKey{AccountID: p.AccountID, Month: p.Month}] = p
	return nil
}

func (d *data) AppendAudit(_ context.Context, e books.AuditEntry) error {
	d.audit = append(d.audit, e)
	return nil
}
