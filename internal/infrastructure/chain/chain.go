// Package chain is an in-memory loan contract. It implements the wallet signer
// and ledger reader contracts so the service can run without a node, and so
// tests can drive the ledger deterministically.
package chain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"p2plend/internal/domain/ledger"
	"p2plend/internal/domain/loan"
)

type Option func(*Chain)

// WithAccounts restricts the addresses the chain signs for.
func WithAccounts(addrs ...string) Option {
	return func(c *Chain) { c.accounts = append(c.accounts, addrs...) }
}

// WithConfirmDelay delays every confirmation by d.
func WithConfirmDelay(d time.Duration) Option {
	return func(c *Chain) { c.confirmDelay = d }
}

// WithSubmitHook runs fn before each submission; a non-nil error is returned
// to the caller as a signer failure and nothing is submitted.
func WithSubmitHook(fn func(op ledger.Op) error) Option {
	return func(c *Chain) { c.submitHook = fn }
}

type Chain struct {
	mu           sync.Mutex
	loans        map[uint64]*loan.LedgerState
	txs          map[string]ledger.Confirmation
	nextID       uint64
	seq          uint64
	nonce        uint64
	accounts     []string
	confirmDelay time.Duration
	submitHook   func(op ledger.Op) error
}

func New(opts ...Option) *Chain {
	c := &Chain{
		loans: make(map[uint64]*loan.LedgerState),
		txs:   make(map[string]ledger.Confirmation),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetConfirmDelay changes the confirmation delay for subsequent waits.
func (c *Chain) SetConfirmDelay(d time.Duration) {
	c.mu.Lock()
	c.confirmDelay = d
	c.mu.Unlock()
}

func (c *Chain) RequestAccounts(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.accounts...), nil
}

// SignAndSubmit executes op immediately; the outcome becomes observable to
// AwaitConfirmation after the confirmation delay.
func (c *Chain) SignAndSubmit(ctx context.Context, op ledger.Op) (ledger.TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxHandle{}, err
	}
	c.mu.Lock()
	hook := c.submitHook
	c.mu.Unlock()
	if hook != nil {
		if err := hook(op); err != nil {
			return ledger.TxHandle{}, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonce++
	hash := txHash(op, c.nonce)
	c.txs[hash] = c.execute(op, hash)
	return ledger.TxHandle{Hash: hash}, nil
}

func (c *Chain) AwaitConfirmation(ctx context.Context, h ledger.TxHandle) (ledger.Confirmation, error) {
	c.mu.Lock()
	delay := c.confirmDelay
	c.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ledger.Confirmation{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conf, ok := c.txs[h.Hash]
	if !ok {
		return ledger.Confirmation{}, ledger.ErrUnknownTx
	}
	return conf, nil
}

func (c *Chain) ReadLoan(ctx context.Context, loanID uint64) (*loan.LedgerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.loans[loanID]
	if !ok {
		return nil, loan.NotFoundError{Resource: "loan"}
	}
	cp := *st
	return &cp, nil
}

func (c *Chain) LoanIDs(ctx context.Context) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.loans))
	for id := range c.loans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// execute applies the contract rules. Caller holds c.mu.
func (c *Chain) execute(op ledger.Op, hash string) ledger.Confirmation {
	revert := func(reason string) ledger.Confirmation {
		return ledger.Confirmation{Confirmed: true, Reverted: true, Reason: reason}
	}

	var st *loan.LedgerState
	switch op.Method {
	case ledger.MethodCreateOffer, ledger.MethodRequestLoan:
		if !op.Amount.IsPositive() {
			return revert("amount must be positive")
		}
		if op.InterestRate.IsNegative() {
			return revert("interest rate must not be negative")
		}
		if op.DurationMonths == 0 {
			return revert("duration must be positive")
		}
		c.nextID++
		st = &loan.LedgerState{
			LoanID:         c.nextID,
			Amount:         op.Amount,
			InterestRate:   op.InterestRate,
			DurationMonths: op.DurationMonths,
			CreatedBy:      op.From,
		}
		if op.Method == ledger.MethodCreateOffer {
			st.Lender, st.Status = op.From, loan.StatusOffered
		} else {
			st.Borrower, st.Status = op.From, loan.StatusRequested
		}
		c.loans[st.LoanID] = st

	default:
		var ok bool
		st, ok = c.loans[op.LoanID]
		if !ok || st.Deleted {
			return revert("loan does not exist")
		}
		if reason := applyTransition(st, op); reason != "" {
			return revert(reason)
		}
	}

	c.seq++
	st.Seq = c.seq
	st.TxHash = hash
	cp := *st
	return ledger.Confirmation{Confirmed: true, State: &cp}
}

// applyTransition mutates st for op, or returns the revert reason.
func applyTransition(st *loan.LedgerState, op ledger.Op) string {
	switch op.Method {
	case ledger.MethodAcceptLoan:
		switch st.Status {
		case loan.StatusOffered:
			if op.From == st.Lender {
				return "cannot accept own loan"
			}
			st.Borrower = op.From
		case loan.StatusRequested:
			if op.From == st.Borrower {
				return "cannot accept own loan"
			}
			st.Lender = op.From
		default:
			return "loan is not open"
		}
		st.Status = loan.StatusMatched

	case ledger.MethodFundLoan:
		if st.Status != loan.StatusMatched {
			return "loan is not matched"
		}
		if op.From != st.Lender {
			return "only the lender can fund"
		}
		if !op.Value.Equal(st.Amount) {
			return "value must equal the loan amount"
		}
		st.Status, st.IsFunded = loan.StatusFunded, true

	case ledger.MethodRepayLoan:
		if st.Status != loan.StatusFunded {
			return "loan is not funded"
		}
		if op.From != st.Borrower {
			return "only the borrower can repay"
		}
		if !op.Value.Equal(loan.RepaymentDue(st.Amount, st.InterestRate)) {
			return "value must equal principal plus interest"
		}
		st.Status, st.IsRepaid = loan.StatusRepaid, true

	case ledger.MethodDeleteLoan:
		if st.Status != loan.StatusOffered && st.Status != loan.StatusRequested {
			return "loan can no longer be cancelled"
		}
		if op.From != st.CreatedBy {
			return "only the creator can cancel"
		}
		st.Status, st.Deleted = loan.StatusCancelled, true

	default:
		return "unknown method " + string(op.Method)
	}
	return ""
}

func txHash(op ledger.Op, nonce uint64) string {
	payload, _ := json.Marshal(op)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return crypto.Keccak256Hash(payload, n[:]).Hex()
}
