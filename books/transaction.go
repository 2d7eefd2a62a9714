/*
transaction.go - Double-entry transaction posting

PURPOSE:
  Validates and persists a transaction with its items, then applies its
  signed effect to the primary ledger head's running balances. A cheque
  transaction is stored pending together with its Cheque row and changes no
  balance until ClearCheque.

VALIDATION (in order, nothing is written on failure):
  1. amount > 0, known tx_type / cash_type, tx_date present
  2. cash/bank split reconciles with amount (derived when both are zero)
  3. booklet_id / receipt_no only on credits, both or neither
  4. items: signed item sum == signed amount (synthesized if absent)
  5. account, head and item heads exist and belong together
  6. tx_date's month is the account's open period, unless Override is set
     and the month is before the open period

SIGNS:
  credit: +amount on the primary head
  debit:  -amount on the primary head
  The cash and bank parts move by +/- cash_amount and +/- bank_amount.

STALE SNAPSHOTS:
  If the head already has snapshot rows for months after tx_date's month
  (backdated open or override), they are recomputed in the same transaction.

SEE ALSO:
  - cheque.go: ClearCheque / CancelCheque
  - balance.go: RecalculateMonthlySnapshots
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
// INPUT / OUTPUT
// =============================================================================

type ItemInput struct {
	LedgerHeadID LedgerHeadID
	Amount       decimal.Decimal
	Side         ItemSide
}

type ChequeInput struct {
	ChequeNumber string
	BankName     string
	IssueDate    time.Time // defaults to TxDate
	DueDate      *time.Time
}

// BackdateOverride is the explicit administrative action that allows
// posting into a month before the open period.
type BackdateOverride struct {
	Reason string
}

type PostTransactionInput struct {
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
	Narration    string
	Items        []ItemInput
	Cheque       *ChequeInput
	Override     *BackdateOverride
}

type PostTransactionResult struct {
	TransactionID TransactionID
	Status        TxStatus
	ChequeID      ChequeID // set for cheque transactions
}

// TransactionDetail is a transaction with its items and optional cheque.
type TransactionDetail struct {
	Transaction Transaction
	Items       []TransactionItem
	Cheque      *Cheque
}

// =============================================================================
// POST
// =============================================================================

// PostTransaction validates and atomically persists a transaction.
func (e *Engine) PostTransaction(ctx context.Context, in PostTransactionInput) (PostTransactionResult, error) {
	tx, items, err := buildTransaction(in)
	if err != nil {
		return PostTransactionResult{}, err
	}

	var result PostTransactionResult
	err = e.atomically(ctx, func(t *txn) error {
		tx.CreatedBy = t.actor
		tx.CreatedAt = t.now

		head, err := t.GetLedgerHead(ctx, tx.LedgerHeadID)
		if err != nil {
			return err
		}
		if _, err := t.GetAccount(ctx, tx.AccountID); err != nil {
			return err
		}
		if head.AccountID != tx.AccountID {
			return &ValidationError{Field: "ledger_head_id", Message: fmt.Sprintf("head %s does not belong to account %s", head.ID, tx.AccountID)}
		}
		for _, item := range items {
			if item.LedgerHeadID == head.ID {
				continue
			}
			other, err := t.GetLedgerHead(ctx, item.LedgerHeadID)
			if err != nil {
				return err
			}
			if other.AccountID != tx.AccountID {
				return &ValidationError{Field: "items", Message: fmt.Sprintf("head %s does not belong to account %s", other.ID, tx.AccountID)}
			}
		}

		txMonth := MonthOf(tx.TxDate)
		open, err := e.resolveOpenPeriod(ctx, t, tx.AccountID)
		if err != nil {
			return err
		}
		backdated := false
		if !txMonth.Equal(open) {
			if in.Override == nil || !txMonth.Before(open) {
				return &PeriodClosedError{AccountID: tx.AccountID, Requested: txMonth, Open: &open}
			}
			backdated = true
		}

		if err := t.InsertTransaction(ctx, tx, items); err != nil {
			return err
		}

		result = PostTransactionResult{TransactionID: tx.ID, Status: tx.Status}

		if tx.CashType == CashTypeCheque {
			cheque := newCheque(tx, in.Cheque)
			if err := t.InsertCheque(ctx, cheque); err != nil {
				return err
			}
			result.ChequeID = cheque.ID
		} else {
			if err := applyDelta(ctx, t, head, tx.Delta()); err != nil {
				return err
			}
			if err := e.cascadeIfStale(ctx, t, *head, tx.TxDate, &open); err != nil {
				return err
			}
		}

		if backdated {
			return t.record(ctx, "transaction", string(tx.ID), AuditBackdatedPosting, map[string]string{
				"account_id":  string(tx.AccountID),
				"tx_month":    txMonth.String(),
				"open_period": open.String(),
				"reason":      in.Override.Reason,
				"amount":      tx.Amount.String(),
			})
		}
		return nil
	})
	if err != nil {
		return PostTransactionResult{}, err
	}
	return result, nil
}

// cascadeIfStale recomputes the head's snapshots from date's month when a
// stored row already covers that month or a later one. The open month's own
// row is left alone when it is the latest; ClosePeriod refreshes it.
func (e *Engine) cascadeIfStale(ctx context.Context, t *txn, head LedgerHead, date time.Time, open *Month) error {
	latest, err := t.LatestSnapshotMonth(ctx, head.AccountID, head.ID)
	if err != nil {
		return err
	}
	month := MonthOf(date)
	if latest == nil || latest.Before(month) {
		return nil
	}
	if latest.Equal(month) && open != nil && open.Equal(month) {
		return nil
	}
	_, err = RecalculateMonthlySnapshots(ctx, t, head.AccountID, head.ID, month.First(), t.asOf)
	return err
}

// GetTransaction returns the transaction with its items and cheque.
func (e *Engine) GetTransaction(ctx context.Context, id TransactionID) (*TransactionDetail, error) {
	tx, err := e.Store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := e.Store.ListTransactionItems(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &TransactionDetail{Transaction: *tx, Items: items}
	if tx.CashType == CashTypeCheque {
		cheques, err := e.Store.ListCheques(ctx, ChequeFilter{TxID: id})
		if err != nil {
			return nil, err
		}
		if len(cheques) > 0 {
			detail.Cheque = &cheques[0]
		}
	}
	return detail, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// buildTransaction validates input and returns the normalized transaction
// and items. It performs no I/O.
func buildTransaction(in PostTransactionInput) (Transaction, []TransactionItem, error) {
	if in.AccountID == "" {
		return Transaction{}, nil, &ValidationError{Field: "account_id", Message: "required"}
	}
	if in.LedgerHeadID == "" {
		return Transaction{}, nil, &ValidationError{Field: "ledger_head_id", Message: "required"}
	}
	if !in.Amount.IsPositive() {
		return Transaction{}, nil, &ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if !in.TxType.Valid() {
		return Transaction{}, nil, &ValidationError{Field: "tx_type", Message: fmt.Sprintf("unknown type %q", in.TxType)}
	}
	if !in.CashType.Valid() {
		return Transaction{}, nil, &ValidationError{Field: "cash_type", Message: fmt.Sprintf("unknown type %q", in.CashType)}
	}
	if in.TxDate.IsZero() {
		return Transaction{}, nil, &ValidationError{Field: "tx_date", Message: "required"}
	}

	cash, bank, err := splitAmount(in)
	if err != nil {
		return Transaction{}, nil, err
	}

	if in.BookletID != "" || in.ReceiptNo != "" {
		if in.TxType != TxCredit {
			return Transaction{}, nil, &ValidationError{Field: "receipt_no", Message: "booklet receipts are only allowed on credit transactions"}
		}
		if in.BookletID == "" || in.ReceiptNo == "" {
			return Transaction{}, nil, &ValidationError{Field: "receipt_no", Message: "booklet_id and receipt_no must be given together"}
		}
	}

	if in.CashType == CashTypeCheque {
		if in.Cheque == nil || in.Cheque.ChequeNumber == "" {
			return Transaction{}, nil, &ValidationError{Field: "cheque", Message: "cheque_number is required for cheque transactions"}
		}
	} else if in.Cheque != nil {
		return Transaction{}, nil, &ValidationError{Field: "cheque", Message: "cheque details given for a non-cheque transaction"}
	}

	tx := Transaction{
		ID:           TransactionID(uuid.NewString()),
		AccountID:    in.AccountID,
		LedgerHeadID: in.LedgerHeadID,
		DonorID:      in.DonorID,
		BookletID:    in.BookletID,
		ReceiptNo:    in.ReceiptNo,
		Amount:       in.Amount,
		TxType:       in.TxType,
		CashType:     in.CashType,
		CashAmount:   cash,
		BankAmount:   bank,
		TxDate:       Day(in.TxDate),
		Status:       TxCompleted,
		Narration:    in.Narration,
	}
	if in.CashType == CashTypeCheque {
		tx.Status = TxPending
	}

	items, err := buildItems(tx, in.Items)
	if err != nil {
		return Transaction{}, nil, err
	}
	return tx, items, nil
}

// splitAmount reconciles cash_amount and bank_amount with amount.
func splitAmount(in PostTransactionInput) (decimal.Decimal, decimal.Decimal, error) {
	cash, bank := in.CashAmount, in.BankAmount
	if cash.IsNegative() || bank.IsNegative() {
		return cash, bank, &ValidationError{Field: "cash_amount", Message: "cash_amount and bank_amount must not be negative"}
	}

	if in.CashType == CashTypeCheque {
		// The whole amount is held pending and settles into the bank part.
		if !cash.IsZero() {
			return cash, bank, &ValidationError{Field: "cash_amount", Message: "must be zero for cheque transactions"}
		}
		if !bank.IsZero() && !bank.Equal(in.Amount) {
			return cash, bank, &ValidationError{Field: "bank_amount", Message: "must equal amount for cheque transactions"}
		}
		return decimal.Zero, in.Amount, nil
	}

	if cash.IsZero() && bank.IsZero() {
		switch {
		case in.CashType == CashTypeCash:
			return in.Amount, decimal.Zero, nil
		case in.CashType.settlesToBank():
			return decimal.Zero, in.Amount, nil
		default:
			return cash, bank, &ValidationError{Field: "cash_amount", Message: "multiple payments need cash_amount and bank_amount"}
		}
	}

	if !cash.Add(bank).Equal(in.Amount) {
		return cash, bank, &ValidationError{
			Field:   "cash_amount",
			Message: fmt.Sprintf("cash_amount %s + bank_amount %s does not equal amount %s", cash, bank, in.Amount),
		}
	}
	return cash, bank, nil
}

// buildItems checks that the signed item sum equals the transaction's
// signed amount. With no items, a single item on the primary head is used.
func buildItems(tx Transaction, inputs []ItemInput) ([]TransactionItem, error) {
	if len(inputs) == 0 {
		side := SidePlus
		if tx.TxType == TxDebit {
			side = SideMinus
		}
		inputs = []ItemInput{{LedgerHeadID: tx.LedgerHeadID, Amount: tx.Amount, Side: side}}
	}

	items := make([]TransactionItem, 0, len(inputs))
	net := decimal.Zero
	for i, in := range inputs {
		if in.LedgerHeadID == "" {
			return nil, &ValidationError{Field: "items", Message: fmt.Sprintf("item %d: ledger_head_id required", i)}
		}
		if !in.Amount.IsPositive() {
			return nil, &ValidationError{Field: "items", Message: fmt.Sprintf("item %d: amount must be greater than zero", i)}
		}
		if !in.Side.Valid() {
			return nil, &ValidationError{Field: "items", Message: fmt.Sprintf("item %d: side must be '+' or '-'", i)}
		}
		item := TransactionItem{
			ID:            uuid.NewString(),
			TransactionID: tx.ID,
			LedgerHeadID:  in.LedgerHeadID,
			Amount:        in.Amount,
			Side:          in.Side,
		}
		net = net.Add(item.Signed())
		items = append(items, item)
	}

	if !net.Equal(tx.Delta().Total) {
		return nil, &ValidationError{
			Field:   "items",
			Message: fmt.Sprintf("items net to %s, transaction moves %s", net, tx.Delta().Total),
		}
	}
	return items, nil
}

func newCheque(tx Transaction, in *ChequeInput) Cheque {
	issue := tx.TxDate
	if !in.IssueDate.IsZero() {
		issue = Day(in.IssueDate)
	}
	var due *time.Time
	if in.DueDate != nil {
		d := Day(*in.DueDate)
		due = &d
	}
	return Cheque{
		ID:           ChequeID(uuid.NewString()),
		TxID:         tx.ID,
		AccountID:    tx.AccountID,
		LedgerHeadID: tx.LedgerHeadID,
		ChequeNumber: in.ChequeNumber,
		BankName:     in.BankName,
		IssueDate:    issue,
		DueDate:      due,
		Status:       ChequePending,
	}
}
