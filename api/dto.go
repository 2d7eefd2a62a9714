/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the books domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Operation results

MONEY AND DATES:
  Amounts are decimal.Decimal and marshal as JSON strings ("1000.50").
  Requests accept strings or numbers. Dates are "2006-01-02".

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers;
  converters only parse formats.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/bookkeeping-engine/books"
)

const dateLayout = "2006-01-02"

// =============================================================================
// TRANSACTIONS
// =============================================================================

type ItemRequest struct {
	LedgerHeadID string          `json:"ledger_head_id"`
	Amount       decimal.Decimal `json:"amount"`
	Side         string          `json:"side"`
}

type ChequeRequest struct {
	ChequeNumber string `json:"cheque_number"`
	BankName     string `json:"bank_name"`
	IssueDate    string `json:"issue_date,omitempty"`
	DueDate      string `json:"due_date,omitempty"`
}

type OverrideRequest struct {
	Reason string `json:"reason"`
}

// PostTransactionRequest is the body of POST /api/transactions.
type PostTransactionRequest struct {
	AccountID    string           `json:"account_id"`
	LedgerHeadID string           `json:"ledger_head_id"`
	DonorID      string           `json:"donor_id,omitempty"`
	BookletID    string           `json:"booklet_id,omitempty"`
	ReceiptNo    string           `json:"receipt_no,omitempty"`
	Amount       decimal.Decimal  `json:"amount"`
	TxType       string           `json:"tx_type"`
	CashType     string           `json:"cash_type"`
	CashAmount   decimal.Decimal  `json:"cash_amount"`
	BankAmount   decimal.Decimal  `json:"bank_amount"`
	TxDate       string           `json:"tx_date"`
	Narration    string           `json:"narration,omitempty"`
	Items        []ItemRequest    `json:"items,omitempty"`
	Cheque       *ChequeRequest   `json:"cheque,omitempty"`
	Override     *OverrideRequest `json:"backdate_override,omitempty"`
}

// toInput converts the request, failing only on unparseable dates.
func (r PostTransactionRequest) toInput() (books.PostTransactionInput, error) {
	txDate, err := parseDate("tx_date", r.TxDate)
	if err != nil {
		return books.PostTransactionInput{}, err
	}
	in := books.PostTransactionInput{
		AccountID:    books.AccountID(r.AccountID),
		LedgerHeadID: books.LedgerHeadID(r.LedgerHeadID),
		DonorID:      r.DonorID,
		BookletID:    r.BookletID,
		ReceiptNo:    r.ReceiptNo,
		Amount:       r.Amount,
		TxType:       books.TxType(r.TxType),
		CashType:     books.CashType(r.CashType),
		CashAmount:   r.CashAmount,
		BankAmount:   r.BankAmount,
		TxDate:       txDate,
		Narration:    r.Narration,
	}
	for _, item := range r.Items {
		in.Items = append(in.Items, books.ItemInput{
			LedgerHeadID: books.LedgerHeadID(item.LedgerHeadID),
			Amount:       item.Amount,
			Side:         books.ItemSide(item.Side),
		})
	}
	if r.Cheque != nil {
		c := &books.ChequeInput{ChequeNumber: r.Cheque.ChequeNumber, BankName: r.Cheque.BankName}
		if r.Cheque.IssueDate != "" {
			if c.IssueDate, err = parseDate("cheque.issue_date", r.Cheque.IssueDate); err != nil {
				return books.PostTransactionInput{}, err
			}
		}
		if r.Cheque.DueDate != "" {
			due, err := parseDate("cheque.due_date", r.Cheque.DueDate)
			if err != nil {
				return books.PostTransactionInput{}, err
			}
			c.DueDate = &due
		}
		in.Cheque = c
	}
	if r.Override != nil {
		in.Override = &books.BackdateOverride{Reason: r.Override.Reason}
	}
	return in, nil
}

type PostTransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	ChequeID      string `json:"cheque_id,omitempty"`
}

type ItemDTO struct {
	ID           string          `json:"id"`
	LedgerHeadID string          `json:"ledger_head_id"`
	Amount       decimal.Decimal `json:"amount"`
	Side         string          `json:"side"`
}

type TransactionDTO struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	LedgerHeadID string          `json:"ledger_head_id"`
	DonorID      string          `json:"donor_id,omitempty"`
	BookletID    string          `json:"booklet_id,omitempty"`
	ReceiptNo    string          `json:"receipt_no,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	TxType       string          `json:"tx_type"`
	CashType     string          `json:"cash_type"`
	CashAmount   decimal.Decimal `json:"cash_amount"`
	BankAmount   decimal.Decimal `json:"bank_amount"`
	TxDate       string          `json:"tx_date"`
	Status       string          `json:"status"`
	Narration    string          `json:"narration,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	Items        []ItemDTO       `json:"items"`
	Cheque       *ChequeDTO      `json:"cheque,omitempty"`
}

func toTransactionDTO(d *books.TransactionDetail) TransactionDTO {
	tx := d.Transaction
	dto := TransactionDTO{
		ID:           string(tx.ID),
		AccountID:    string(tx.AccountID),
		LedgerHeadID: string(tx.LedgerHeadID),
		DonorID:      tx.DonorID,
		BookletID:    tx.BookletID,
		ReceiptNo:    tx.ReceiptNo,
		Amount:       tx.Amount,
		TxType:       string(tx.TxType),
		CashType:     string(tx.CashType),
		CashAmount:   tx.CashAmount,
		BankAmount:   tx.BankAmount,
		TxDate:       tx.TxDate.Format(dateLayout),
		Status:       string(tx.Status),
		Narration:    tx.Narration,
		CreatedBy:    tx.CreatedBy,
		Items:        make([]ItemDTO, len(d.Items)),
	}
	for i, item := range d.Items {
		dto.Items[i] = ItemDTO{
			ID:           item.ID,
			LedgerHeadID: string(item.LedgerHeadID),
			Amount:       item.Amount,
			Side:         string(item.Side),
		}
	}
	if d.Cheque != nil {
		c := toChequeDTO(*d.Cheque)
		dto.Cheque = &c
	}
	return dto
}

// =============================================================================
// CHEQUES
// =============================================================================

type ChequeDTO struct {
	ID           string `json:"id"`
	TxID         string `json:"tx_id"`
	AccountID    string `json:"account_id"`
	LedgerHeadID string `json:"ledger_head_id"`
	ChequeNumber string `json:"cheque_number"`
	BankName     string `json:"bank_name,omitempty"`
	IssueDate    string `json:"issue_date"`
	DueDate      string `json:"due_date,omitempty"`
	Status       string `json:"status"`
	ClearingDate string `json:"clearing_date,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`
}

func toChequeDTO(c books.Cheque) ChequeDTO {
	return ChequeDTO{
		ID:           string(c.ID),
		TxID:         string(c.TxID),
		AccountID:    string(c.AccountID),
		LedgerHeadID: string(c.LedgerHeadID),
		ChequeNumber: c.ChequeNumber,
		BankName:     c.BankName,
		IssueDate:    c.IssueDate.Format(dateLayout),
		DueDate:      formatDatePtr(c.DueDate),
		Status:       string(c.Status),
		ClearingDate: formatDatePtr(c.ClearingDate),
		CancelReason: c.CancelReason,
	}
}

type ClearChequeRequest struct {
	ClearingDate string `json:"clearing_date"`
}

type CancelChequeRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ChequeStatusResponse struct {
	ChequeID     string `json:"cheque_id"`
	Status       string `json:"status"`
	ClearingDate string `json:"clearing_date,omitempty"`
}

// =============================================================================
// PERIODS AND SNAPSHOTS
// =============================================================================

type PeriodRequest struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

type PeriodDTO struct {
	AccountID string `json:"account_id"`
	Month     int    `json:"month"`
	Year      int    `json:"year"`
}

type HeadFailureDTO struct {
	LedgerHeadID string `json:"ledger_head_id"`
	Error        string `json:"error"`
}

func toFailureDTOs(failures []books.HeadFailure) []HeadFailureDTO {
	out := make([]HeadFailureDTO, len(failures))
	for i, f := range failures {
		out[i] = HeadFailureDTO{LedgerHeadID: string(f.LedgerHeadID), Error: f.Err.Error()}
	}
	return out
}

type OpenPeriodResponse struct {
	Opened       bool             `json:"opened"`
	Recalculated bool             `json:"recalculated"`
	Backdated    bool             `json:"backdated"`
	AlreadyOpen  bool             `json:"already_open,omitempty"`
	FailedHeads  []HeadFailureDTO `json:"failed_heads,omitempty"`
}

type ClosePeriodResponse struct {
	Closed         bool   `json:"closed"`
	LastClosedDate string `json:"last_closed_date"`
}

type MonthlyBalanceDTO struct {
	ID             string          `json:"id"`
	AccountID      string          `json:"account_id"`
	LedgerHeadID   string          `json:"ledger_head_id"`
	Month          int             `json:"month"`
	Year           int             `json:"year"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Receipts       decimal.Decimal `json:"receipts"`
	Payments       decimal.Decimal `json:"payments"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	CashInHand     decimal.Decimal `json:"cash_in_hand"`
	CashInBank     decimal.Decimal `json:"cash_in_bank"`
	IsOpen         bool            `json:"is_open"`
}

func toMonthlyBalanceDTO(b books.MonthlyLedgerBalance) MonthlyBalanceDTO {
	return MonthlyBalanceDTO{
		ID:             b.ID,
		AccountID:      string(b.AccountID),
		LedgerHeadID:   string(b.LedgerHeadID),
		Month:          int(b.Month.Month),
		Year:           b.Month.Year,
		OpeningBalance: b.OpeningBalance,
		Receipts:       b.Receipts,
		Payments:       b.Payments,
		ClosingBalance: b.ClosingBalance,
		CashInHand:     b.CashInHand,
		CashInBank:     b.CashInBank,
		IsOpen:         b.IsOpen,
	}
}

type RecalculateRequest struct {
	From         string `json:"from"`
	LedgerHeadID string `json:"ledger_head_id,omitempty"`
}

type RecalculateResponse struct {
	Updated     int              `json:"updated"`
	FailedHeads []HeadFailureDTO `json:"failed_heads,omitempty"`
}

// =============================================================================
// BALANCES
// =============================================================================

type BalanceDTO struct {
	Total decimal.Decimal `json:"total"`
	Cash  decimal.Decimal `json:"cash"`
	Bank  decimal.Decimal `json:"bank"`
}

type LedgerHeadBalanceDTO struct {
	LedgerHeadID   string          `json:"ledger_head_id"`
	AccountID      string          `json:"account_id"`
	Name           string          `json:"name"`
	HeadType       string          `json:"head_type"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	BankBalance    decimal.Decimal `json:"bank_balance"`
	From           string          `json:"from,omitempty"`
	To             string          `json:"to"`
	Computed       BalanceDTO      `json:"computed"`
}

// =============================================================================
// ACCOUNTS, AUDIT, SCENARIOS
// =============================================================================

type LedgerHeadDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	HeadType       string          `json:"head_type"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	BankBalance    decimal.Decimal `json:"bank_balance"`
}

type AccountDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	BankBalance    decimal.Decimal `json:"bank_balance"`
	LastClosedDate string          `json:"last_closed_date,omitempty"`
	LedgerHeads    []LedgerHeadDTO `json:"ledger_heads"`
}

func toAccountDTO(v *books.AccountView) AccountDTO {
	a := v.Account
	dto := AccountDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		OpeningBalance: a.OpeningBalance,
		ClosingBalance: a.ClosingBalance,
		CashBalance:    a.CashBalance,
		BankBalance:    a.BankBalance,
		LastClosedDate: formatDatePtr(a.LastClosedDate),
		LedgerHeads:    make([]LedgerHeadDTO, len(v.Heads)),
	}
	for i, h := range v.Heads {
		dto.LedgerHeads[i] = LedgerHeadDTO{
			ID:             string(h.ID),
			Name:           h.Name,
			HeadType:       string(h.HeadType),
			CurrentBalance: h.CurrentBalance,
			CashBalance:    h.CashBalance,
			BankBalance:    h.BankBalance,
		}
	}
	return dto
}

type AuditEntryDTO struct {
	ID         string            `json:"id"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Action     string            `json:"action"`
	ActorID    string            `json:"actor_id"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	ScenarioID string            `json:"scenario_id"`
	Accounts   map[string]string `json:"accounts"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// FORMAT HELPERS
// =============================================================================

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, &books.ValidationError{Field: field, Message: "required"}
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &books.ValidationError{Field: field, Message: fmt.Sprintf("use YYYY-MM-DD, got %q", s)}
	}
	return t, nil
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}
