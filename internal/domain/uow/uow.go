package uow

import "context"

// UnitOfWork serializes every mutation of a single loan. Work for different
// loans runs concurrently; work for the same loan runs one at a time, so two
// parties racing on the same one-sided loan observe each other's result.
type UnitOfWork interface {
	// WithinLoan runs fn while holding the loan's exclusive scope. The scope is
	// released when fn returns. ctx bounds the wait for the scope.
	WithinLoan(ctx context.Context, loanID uint64, fn func(ctx context.Context) error) error
}
