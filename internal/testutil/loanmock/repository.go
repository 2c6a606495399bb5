package loanmock

import (
	"context"

	domain "p2plend/internal/domain/loan"
)

var _ domain.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies domain.Repository.
// Unset reads return context.Canceled; unset writes are no-ops.
type Repo struct {
	CreateFn      func(ctx context.Context, l *domain.Loan) error
	GetByLoanIDFn func(ctx context.Context, loanID uint64) (*domain.Loan, error)
	FindFn        func(ctx context.Context, loanID uint64) (*domain.Loan, error)
	UpdateFn      func(ctx context.Context, l *domain.Loan) error
	DeleteFn      func(ctx context.Context, loanID uint64, deletedBy string) error
	ListFn        func(ctx context.Context, f domain.Filter) ([]domain.Loan, error)
}

func (m *Repo) Create(ctx context.Context, l *domain.Loan) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, l)
	}
	return nil
}

func (m *Repo) GetByLoanID(ctx context.Context, loanID uint64) (*domain.Loan, error) {
	if m.GetByLoanIDFn != nil {
		return m.GetByLoanIDFn(ctx, loanID)
	}
	return nil, context.Canceled
}

func (m *Repo) Find(ctx context.Context, loanID uint64) (*domain.Loan, error) {
	if m.FindFn != nil {
		return m.FindFn(ctx, loanID)
	}
	return nil, context.Canceled
}

func (m *Repo) Update(ctx context.Context, l *domain.Loan) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(ctx, l)
	}
	return nil
}

func (m *Repo) Delete(ctx context.Context, loanID uint64, deletedBy string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, loanID, deletedBy)
	}
	return nil
}

func (m *Repo) List(ctx context.Context, f domain.Filter) ([]domain.Loan, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, f)
	}
	return nil, context.Canceled
}
