/*
Package scenario loads demo data for testing and demonstrations.

PURPOSE:
  Provides pre-built scenarios that populate a store with realistic data.
  Each scenario is a YAML fixture listing accounts, ledger heads and an
  ordered list of steps (open, post, close, clear_cheque, cancel_cheque).

AVAILABLE SCENARIOS:
  backdated-open:   June open at 1000, then March reopened and recomputed
  cheque-lifecycle: One cheque cleared, one returned unpaid

HOW SCENARIOS WORK:
  1. Optionally reset the store (when it supports Reset)
  2. Create accounts and ledger heads
  3. Replay steps through the engine's own operations, so every posting
     is validated exactly as an API call would be
  4. The engine clock is pinned to the fixture's clock for the replay

ADDING NEW SCENARIOS:
  Drop a YAML file into fixtures/. The id field must be unique.

NOTE:
  Resetting wipes the store. Only use in development/demo environments.
*/
package scenario

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/bookkeeping-engine/books"
)

//go:embed fixtures/*.yaml
var fixtures embed.FS

// =============================================================================
// FIXTURE FORMAT
// =============================================================================

type Scenario struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Clock       string    `yaml:"clock"`
	Accounts    []Account `yaml:"accounts"`
	Steps       []Step    `yaml:"steps"`
}

type Account struct {
	Key   string `yaml:"key"`
	Name  string `yaml:"name"`
	Heads []Head `yaml:"heads"`
}

type Head struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Step holds exactly one action.
type Step struct {
	Open         *PeriodStep `yaml:"open,omitempty"`
	Close        *PeriodStep `yaml:"close,omitempty"`
	Post         *PostStep   `yaml:"post,omitempty"`
	ClearCheque  *ChequeStep `yaml:"clear_cheque,omitempty"`
	CancelCheque *ChequeStep `yaml:"cancel_cheque,omitempty"`
}

type PeriodStep struct {
	Account string `yaml:"account"`
	Month   string `yaml:"month"` // YYYY-MM
}

type PostStep struct {
	Account   string         `yaml:"account"`
	Head      string         `yaml:"head"`
	Type      string         `yaml:"type"`
	CashType  string         `yaml:"cash_type"`
	Amount    string         `yaml:"amount"`
	Cash      string         `yaml:"cash,omitempty"`
	Bank      string         `yaml:"bank,omitempty"`
	Date      string         `yaml:"date"`
	Narration string         `yaml:"narration,omitempty"`
	Donor     string         `yaml:"donor,omitempty"`
	Booklet   string         `yaml:"booklet,omitempty"`
	Receipt   string         `yaml:"receipt,omitempty"`
	Cheque    *ChequeFixture `yaml:"cheque,omitempty"`
	Backdate  string         `yaml:"backdate_reason,omitempty"`
}

type ChequeFixture struct {
	Ref    string `yaml:"ref"`
	Number string `yaml:"number"`
	Bank   string `yaml:"bank"`
}

type ChequeStep struct {
	Ref    string `yaml:"ref"`
	Date   string `yaml:"date,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

// Summary is the listing shape of a scenario.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CATALOG
// =============================================================================

// Parse decodes one fixture.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("parse scenario: missing id")
	}
	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return nil, fmt.Errorf("scenario %s: step %d has %d actions, want 1", s.ID, i, n)
		}
	}
	return &s, nil
}

// All returns every embedded scenario sorted by id.
func All() ([]*Scenario, error) {
	entries, err := fixtures.ReadDir("fixtures")
	if err != nil {
		return nil, err
	}
	var out []*Scenario
	for _, e := range entries {
		data, err := fixtures.ReadFile(path.Join("fixtures", e.Name()))
		if err != nil {
			return nil, err
		}
		s, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// List returns the summaries of every embedded scenario.
func List() ([]Summary, error) {
	all, err := All()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(all))
	for i, s := range all {
		out[i] = Summary{ID: s.ID, Name: s.Name, Description: s.Description}
	}
	return out, nil
}

// Get returns the embedded scenario with the given id.
func Get(id string) (*Scenario, error) {
	all, err := All()
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, &books.NotFoundError{Entity: "scenario", ID: id}
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{s.Open != nil, s.Close != nil, s.Post != nil, s.ClearCheque != nil, s.CancelCheque != nil} {
		if set {
			n++
		}
	}
	return n
}

// =============================================================================
// LOADER
// =============================================================================

// Resetter is implemented by stores that can be wiped before loading.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Result maps fixture keys to the ids created for them.
type Result struct {
	ScenarioID string
	Accounts   map[string]books.AccountID
	Heads      map[string]books.LedgerHeadID // "account/head"
	Cheques    map[string]books.ChequeID
}

// Load replays s through e. When reset is true and the store implements
// Resetter, the store is wiped first.
func Load(ctx context.Context, e *books.Engine, s *Scenario, reset bool) (*Result, error) {
	if reset {
		if r, ok := e.Store.(Resetter); ok {
			if err := r.Reset(ctx); err != nil {
				return nil, fmt.Errorf("reset store: %w", err)
			}
		}
	}

	replay := *e
	if s.Clock != "" {
		clock, err := time.Parse("2006-01-02", s.Clock)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: invalid clock: %w", s.ID, err)
		}
		replay.Now = func() time.Time { return clock }
	}

	res := &Result{
		ScenarioID: s.ID,
		Accounts:   make(map[string]books.AccountID),
		Heads:      make(map[string]books.LedgerHeadID),
		Cheques:    make(map[string]books.ChequeID),
	}

	for _, a := range s.Accounts {
		acct, err := replay.CreateAccount(ctx, a.Name)
		if err != nil {
			return nil, fmt.Errorf("create account %s: %w", a.Key, err)
		}
		res.Accounts[a.Key] = acct.ID
		for _, h := range a.Heads {
			head, err := replay.CreateLedgerHead(ctx, acct.ID, h.Name, books.HeadType(h.Type))
			if err != nil {
				return nil, fmt.Errorf("create head %s/%s: %w", a.Key, h.Key, err)
			}
			res.Heads[a.Key+"/"+h.Key] = head.ID
		}
	}

	for i, step := range s.Steps {
		if err := res.apply(ctx, &replay, step); err != nil {
			return nil, fmt.Errorf("scenario %s step %d: %w", s.ID, i, err)
		}
	}
	return res, nil
}

func (r *Result) apply(ctx context.Context, e *books.Engine, step Step) error {
	switch {
	case step.Open != nil:
		acct, month, err := r.period(step.Open)
		if err != nil {
			return err
		}
		_, err = e.OpenPeriod(ctx, acct, month)
		return err

	case step.Close != nil:
		acct, month, err := r.period(step.Close)
		if err != nil {
			return err
		}
		_, err = e.ClosePeriod(ctx, acct, month)
		return err

	case step.Post != nil:
		in, err := r.postInput(step.Post)
		if err != nil {
			return err
		}
		out, err := e.PostTransaction(ctx, in)
		if err != nil {
			return err
		}
		if step.Post.Cheque != nil && step.Post.Cheque.Ref != "" {
			r.Cheques[step.Post.Cheque.Ref] = out.ChequeID
		}
		return nil

	case step.ClearCheque != nil:
		id, ok := r.Cheques[step.ClearCheque.Ref]
		if !ok {
			return fmt.Errorf("unknown cheque ref %q", step.ClearCheque.Ref)
		}
		date, err := time.Parse("2006-01-02", step.ClearCheque.Date)
		if err != nil {
			return fmt.Errorf("clear_cheque date: %w", err)
		}
		_, err = e.ClearCheque(ctx, id, date)
		return err

	case step.CancelCheque != nil:
		id, ok := r.Cheques[step.CancelCheque.Ref]
		if !ok {
			return fmt.Errorf("unknown cheque ref %q", step.CancelCheque.Ref)
		}
		_, err := e.CancelCheque(ctx, id, step.CancelCheque.Reason)
		return err
	}
	return fmt.Errorf("empty step")
}

func (r *Result) period(p *PeriodStep) (books.AccountID, books.Month, error) {
	acct, ok := r.Accounts[p.Account]
	if !ok {
		return "", books.Month{}, fmt.Errorf("unknown account %q", p.Account)
	}
	t, err := time.Parse("2006-01", p.Month)
	if err != nil {
		return "", books.Month{}, fmt.Errorf("month %q: %w", p.Month, err)
	}
	return acct, books.MonthOf(t), nil
}

func (r *Result) postInput(p *PostStep) (books.PostTransactionInput, error) {
	acct, ok := r.Accounts[p.Account]
	if !ok {
		return books.PostTransactionInput{}, fmt.Errorf("unknown account %q", p.Account)
	}
	head, ok := r.Heads[p.Account+"/"+p.Head]
	if !ok {
		return books.PostTransactionInput{}, fmt.Errorf("unknown head %q", p.Head)
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return books.PostTransactionInput{}, fmt.Errorf("amount %q: %w", p.Amount, err)
	}
	cash, err := optionalDecimal(p.Cash)
	if err != nil {
		return books.PostTransactionInput{}, fmt.Errorf("cash %q: %w", p.Cash, err)
	}
	bank, err := optionalDecimal(p.Bank)
	if err != nil {
		return books.PostTransactionInput{}, fmt.Errorf("bank %q: %w", p.Bank, err)
	}
	date, err := time.Parse("2006-01-02", p.Date)
	if err != nil {
		return books.PostTransactionInput{}, fmt.Errorf("date %q: %w", p.Date, err)
	}

	in := books.PostTransactionInput{
		AccountID:    acct,
		LedgerHeadID: head,
		DonorID:      p.Donor,
		BookletID:    p.Booklet,
		ReceiptNo:    p.Receipt,
		Amount:       amount,
		TxType:       books.TxType(p.Type),
		CashType:     books.CashType(p.CashType),
		CashAmount:   cash,
		BankAmount:   bank,
		TxDate:       date,
		Narration:    p.Narration,
	}
	if p.Cheque != nil {
		in.Cheque = &books.ChequeInput{ChequeNumber: p.Cheque.Number, BankName: p.Cheque.Bank}
	}
	if p.Backdate != "" {
		in.Override = &books.BackdateOverride{Reason: p.Backdate}
	}
	return in, nil
}

func optionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
