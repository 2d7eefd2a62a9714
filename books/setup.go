package books

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SETUP - Accounts and ledger heads
// =============================================================================
//
// Account and head management belongs to the surrounding CRUD layer. These
// helpers exist so seeding and tests create entities with the same ids and
// zero balances the engine expects.

// CreateAccount creates an account with zero balances.
func (e *Engine) CreateAccount(ctx context.Context, name string) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	acct := Account{
		ID:             AccountID(uuid.NewString()),
		Name:           name,
		OpeningBalance: decimal.Zero,
		ClosingBalance: decimal.Zero,
		CashBalance:    decimal.Zero,
		BankBalance:    decimal.Zero,
		CreatedAt:      e.clock(),
	}
	err := e.atomically(ctx, func(t *txn) error {
		return t.CreateAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// CreateLedgerHead adds a head with zero balances to the account. Balances
// only ever move through postings.
func (e *Engine) CreateLedgerHead(ctx context.Context, accountID AccountID, name string, headType HeadType) (*LedgerHead, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if !headType.Valid() {
		return nil, &ValidationError{Field: "head_type", Message: fmt.Sprintf("unknown type %q", headType)}
	}
	head := LedgerHead{
		ID:             LedgerHeadID(uuid.NewString()),
		AccountID:      accountID,
		Name:           name,
		HeadType:       headType,
		CurrentBalance: decimal.Zero,
		CashBalance:    decimal.Zero,
		BankBalance:    decimal.Zero,
		CreatedAt:      e.clock(),
	}
	err := e.atomically(ctx, func(t *txn) error {
		if _, err := t.GetAccount(ctx, accountID); err != nil {
			return err
		}
		return t.CreateLedgerHead(ctx, head)
	})
	if err != nil {
		return nil, err
	}
	return &head, nil
}

// AccountView is an account with its heads.
type AccountView struct {
	Account Account
	Heads   []LedgerHead
}

func (e *Engine) GetAccount(ctx context.Context, id AccountID) (*AccountView, error) {
	acct, err := e.Store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	heads, err := e.Store.ListLedgerHeads(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AccountView{Account: *acct, Heads: heads}, nil
}

// AuditTrail returns the account's period entries, newest first.
func (e *Engine) AuditTrail(ctx context.Context, accountID AccountID, limit int) ([]AuditEntry, error) {
	if _, err := e.Store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.Store.ListAudit(ctx, AuditFilter{EntityType: "account", EntityID: string(accountID), Limit: limit})
}
