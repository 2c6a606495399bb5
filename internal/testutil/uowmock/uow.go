package uowmock

import (
	"context"
	"errors"

	"p2plend/internal/domain/uow"
)

// Ensure compile-time compliance
var _ uow.UnitOfWork = (*UoW)(nil)

var errUnimplemented = errors.New("uowmock: method not implemented")

// UoW is a function-backed mock that satisfies uow.UnitOfWork.
// An unset WithinLoanFn returns errUnimplemented.
type UoW struct {
	WithinLoanFn func(ctx context.Context, loanID uint64, fn func(ctx context.Context) error) error
}

func New() *UoW { return &UoW{} }

// Passthrough runs fn directly without any locking.
func Passthrough() *UoW {
	return &UoW{WithinLoanFn: func(ctx context.Context, _ uint64, fn func(context.Context) error) error {
		return fn(ctx)
	}}
}

func (m *UoW) WithWithinLoan(fn func(context.Context, uint64, func(context.Context) error) error) *UoW {
	m.WithinLoanFn = fn
	return m
}
func (m *UoW) Reset() { *m = UoW{} }

func (m *UoW) WithinLoan(ctx context.Context, loanID uint64, fn func(ctx context.Context) error) error {
	if m.WithinLoanFn != nil {
		return m.WithinLoanFn(ctx, loanID, fn)
	}
	return errUnimplemented
}
