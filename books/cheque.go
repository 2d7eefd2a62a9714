package books

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// CHEQUE STATE MACHINE
// =============================================================================
//
//   pending --ClearCheque--> cleared    (transaction completed, delta applied)
//   pending --CancelCheque-> cancelled  (transaction cancelled, no effect)
//
// Both terminal states reject any further transition.

type ChequeResult struct {
	ChequeID     ChequeID
	Status       ChequeStatus
	ClearingDate *time.Time
}

// ClearCheque applies the cheque transaction's deferred effect exactly once.
func (e *Engine) ClearCheque(ctx context.Context, id ChequeID, clearingDate time.Time) (ChequeResult, error) {
	if clearingDate.IsZero() {
		return ChequeResult{}, &ValidationError{Field: "clearing_date", Message: "required"}
	}
	clearingDate = Day(clearingDate)

	var result ChequeResult
	err := e.atomically(ctx, func(t *txn) error {
		cheque, tx, err := pendingCheque(ctx, t, id, "clear")
		if err != nil {
			return err
		}
		if clearingDate.Before(cheque.IssueDate) {
			return &ValidationError{Field: "clearing_date", Message: "must not be before the issue date " + cheque.IssueDate.Format("2006-01-02")}
		}

		cheque.Status = ChequeCleared
		cheque.ClearingDate = &clearingDate
		if err := t.UpdateCheque(ctx, *cheque); err != nil {
			return err
		}
		if err := t.UpdateTransactionStatus(ctx, tx.ID, TxCompleted); err != nil {
			return err
		}

		head, err := t.GetLedgerHead(ctx, tx.LedgerHeadID)
		if err != nil {
			return err
		}
		if err := applyDelta(ctx, t, head, tx.Delta()); err != nil {
			return err
		}

		period, err := t.GetOpenPeriod(ctx, tx.AccountID)
		if err != nil {
			return err
		}
		var open *Month
		if period != nil {
			open = &period.Month
		}
		if err := e.cascadeIfStale(ctx, t, *head, tx.TxDate, open); err != nil {
			return err
		}

		result = ChequeResult{ChequeID: cheque.ID, Status: cheque.Status, ClearingDate: cheque.ClearingDate}
		return t.record(ctx, "cheque", string(cheque.ID), AuditChequeCleared, map[string]string{
			"transaction_id": string(tx.ID),
			"cheque_number":  cheque.ChequeNumber,
			"clearing_date":  clearingDate.Format("2006-01-02"),
			"amount":         tx.Amount.String(),
			"tx_type":        string(tx.TxType),
		})
	})
	if err != nil {
		return ChequeResult{}, err
	}
	return result, nil
}

// CancelCheque voids a pending cheque. Its transaction never touches a balance.
func (e *Engine) CancelCheque(ctx context.Context, id ChequeID, reason string) (ChequeResult, error) {
	reason = strings.TrimSpace(reason)

	var result ChequeResult
	err := e.atomically(ctx, func(t *txn) error {
		cheque, tx, err := pendingCheque(ctx, t, id, "cancel")
		if err != nil {
			return err
		}

		cheque.Status = ChequeCancelled
		cheque.CancelReason = reason
		if err := t.UpdateCheque(ctx, *cheque); err != nil {
			return err
		}
		if err := t.UpdateTransactionStatus(ctx, tx.ID, TxCancelled); err != nil {
			return err
		}

		result = ChequeResult{ChequeID: cheque.ID, Status: cheque.Status}
		details := map[string]string{
			"transaction_id": string(tx.ID),
			"cheque_number":  cheque.ChequeNumber,
		}
		if reason != "" {
			details["reason"] = reason
		}
		return t.record(ctx, "cheque", string(cheque.ID), AuditChequeCancelled, details)
	})
	if err != nil {
		return ChequeResult{}, err
	}
	return result, nil
}

// ListPendingCheques returns the account's uncleared cheques.
func (e *Engine) ListPendingCheques(ctx context.Context, accountID AccountID) ([]Cheque, error) {
	if _, err := e.Store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.Store.ListCheques(ctx, ChequeFilter{AccountID: accountID, Status: ChequePending})
}

// pendingCheque loads a cheque and its transaction, failing unless both
// are still pending.
func pendingCheque(ctx context.Context, s Store, id ChequeID, action string) (*Cheque, *Transaction, error) {
	cheque, err := s.GetCheque(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if cheque.Status != ChequePending {
		return nil, nil, &InvalidChequeStateError{ChequeID: id, Status: cheque.Status, Action: action}
	}
	tx, err := s.GetTransaction(ctx, cheque.TxID)
	if err != nil {
		return nil, nil, err
	}
	if tx.Status != TxPending {
		return nil, nil, &InvalidChequeStateError{ChequeID: id, Status: cheque.Status, Action: action}
	}
	return cheque, tx, nil
}
