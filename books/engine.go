package books

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENGINE - Orchestrates postings, cheques and periods
// =============================================================================

// Engine is the single entry point for every mutating operation. Each
// operation runs inside one Store.WithTx call; audit entries are written in
// that transaction and mirrored to Audit after commit.
type Engine struct {
	Store  TxStore
	Audit  AuditSink // optional external mirror
	Logger *slog.Logger

	// Now is the clock used for "current month" decisions (auto-open,
	// cascade end) and for every timestamp the engine writes. Tests pin it;
	// production uses time.Now.
	Now func() time.Time
}

// NewEngine creates an engine over store with the default logger and clock.
func NewEngine(store TxStore) *Engine {
	return &Engine{
		Store:  store,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e *Engine) clock() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// txn is the per-operation view handed to engine internals.
type txn struct {
	Store
	actor   string
	now     time.Time
	asOf    time.Time
	entries []AuditEntry
}

// record appends an audit entry inside the current transaction.
func (t *txn) record(ctx context.Context, entityType, entityID string, action AuditAction, details map[string]string) error {
	entry := AuditEntry{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    t.actor,
		Details:    details,
		Timestamp:  t.now,
	}
	if err := t.AppendAudit(ctx, entry); err != nil {
		return err
	}
	t.entries = append(t.entries, entry)
	return nil
}

// atomically runs fn in one store transaction, then mirrors its audit
// entries. Nothing is mirrored when fn fails.
func (e *Engine) atomically(ctx context.Context, fn func(t *txn) error) error {
	var committed []AuditEntry
	err := e.Store.WithTx(ctx, func(s Store) error {
		now := e.clock()
		t := &txn{Store: s, actor: ActorFrom(ctx), now: now, asOf: Day(now)}
		if err := fn(t); err != nil {
			return err
		}
		committed = t.entries
		return nil
	})
	if err != nil {
		return err
	}

	if e.Audit != nil {
		for _, entry := range committed {
			if err := e.Audit.Append(ctx, entry); err != nil {
				e.logger().Warn("audit mirror append failed",
					"action", entry.Action, "entity_id", entry.EntityID, "error", err)
			}
		}
	}
	return nil
}

// applyDelta moves a head's running balances and the owning account's
// denormalized totals by d.
func applyDelta(ctx context.Context, s Store, head *LedgerHead, d Balance) error {
	head.Apply(d)
	if err := s.UpdateLedgerHeadBalances(ctx, *head); err != nil {
		return err
	}

	acct, err := s.GetAccount(ctx, head.AccountID)
	if err != nil {
		return err
	}
	acct.ClosingBalance = acct.ClosingBalance.Add(d.Total)
	acct.CashBalance = acct.CashBalance.Add(d.Cash)
	acct.BankBalance = acct.BankBalance.Add(d.Bank)
	return s.UpdateAccount(ctx, *acct)
}
