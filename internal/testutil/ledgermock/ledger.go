package ledgermock

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	domain "p2plend/internal/domain/loan"
)

var _ domain.Ledger = (*Ledger)(nil)

var errUnimplemented = errors.New("ledgermock: method not implemented")

// Ledger is a function-backed mock of domain.Ledger. Unset methods return
// errUnimplemented.
type Ledger struct {
	CreateOfferFn   func(ctx context.Context, from string, amount, rate decimal.Decimal, duration uint32) (*domain.Receipt, error)
	CreateRequestFn func(ctx context.Context, from string, amount, rate decimal.Decimal, duration uint32) (*domain.Receipt, error)
	AcceptMatchFn   func(ctx context.Context, from string, loanID uint64) (*domain.Receipt, error)
	FundLoanFn      func(ctx context.Context, from string, loanID uint64, value decimal.Decimal) (*domain.Receipt, error)
	RepayLoanFn     func(ctx context.Context, from string, loanID uint64, value decimal.Decimal) (*domain.Receipt, error)
	CancelLoanFn    func(ctx context.Context, from string, loanID uint64) (*domain.Receipt, error)
	GetLoanFn       func(ctx context.Context, loanID uint64) (*domain.LedgerState, error)
	LoanIDsFn       func(ctx context.Context) ([]uint64, error)
}

func (m *Ledger) CreateOffer(ctx context.Context, from string, amount, rate decimal.Decimal, duration uint32) (*domain.Receipt, error) {
	if m.CreateOfferFn != nil {
		return m.CreateOfferFn(ctx, from, amount, rate, duration)
	}
	return nil, errUnimplemented
}

func (m *Ledger) CreateRequest(ctx context.Context, from string, amount, rate decimal.Decimal, duration uint32) (*domain.Receipt, error) {
	if m.CreateRequestFn != nil {
		return m.CreateRequestFn(ctx, from, amount, rate, duration)
	}
	return nil, errUnimplemented
}

func (m *Ledger) AcceptMatch(ctx context.Context, from string, loanID uint64) (*domain.Receipt, error) {
	if m.AcceptMatchFn != nil {
		return m.AcceptMatchFn(ctx, from, loanID)
	}
	return nil, errUnimplemented
}

func (m *Ledger) FundLoan(ctx context.Context, from string, loanID uint64, value decimal.Decimal) (*domain.Receipt, error) {
	if m.FundLoanFn != nil {
		return m.FundLoanFn(ctx, from, loanID, value)
	}
	return nil, errUnimplemented
}

func (m *Ledger) RepayLoan(ctx context.Context, from string, loanID uint64, value decimal.Decimal) (*domain.Receipt, error) {
	if m.RepayLoanFn != nil {
		return m.RepayLoanFn(ctx, from, loanID, value)
	}
	return nil, errUnimplemented
}

func (m *Ledger) CancelLoan(ctx context.Context, from string, loanID uint64) (*domain.Receipt, error) {
	if m.CancelLoanFn != nil {
		return m.CancelLoanFn(ctx, from, loanID)
	}
	return nil, errUnimplemented
}

func (m *Ledger) GetLoan(ctx context.Context, loanID uint64) (*domain.LedgerState, error) {
	if m.GetLoanFn != nil {
		return m.GetLoanFn(ctx, loanID)
	}
	return nil, errUnimplemented
}

func (m *Ledger) LoanIDs(ctx context.Context) ([]uint64, error) {
	if m.LoanIDsFn != nil {
		return m.LoanIDsFn(ctx)
	}
	return nil, errUnimplemented
}
