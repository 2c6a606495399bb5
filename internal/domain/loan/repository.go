package loan

import "context"

// Filter selects records for listing. Zero-valued fields do not constrain.
type Filter struct {
	Statuses       []Status
	CreatedBy      string
	Participant    string // borrower or lender
	NotBorrower    string
	NotLender      string
	BorrowerUnset  bool
	LenderUnset    bool
	IncludeDeleted bool
	Limit          int
}

// Matches applies the filter to a single record, mirroring the store query.
func (f Filter) Matches(l *Loan) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if l.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	switch {
	case f.CreatedBy != "" && l.CreatedBy != f.CreatedBy:
		return false
	case f.Participant != "" && !l.Participant(f.Participant):
		return false
	case f.NotBorrower != "" && l.Borrower == f.NotBorrower:
		return false
	case f.NotLender != "" && l.Lender == f.NotLender:
		return false
	case f.BorrowerUnset && l.Borrower != "":
		return false
	case f.LenderUnset && l.Lender != "":
		return false
	case !f.IncludeDeleted && l.DeletedAt.Valid:
		return false
	}
	return true
}

// Repository is the record store gateway.
type Repository interface {
	Create(ctx context.Context, l *Loan) error
	// GetByLoanID returns a live (not soft-deleted) record.
	GetByLoanID(ctx context.Context, loanID uint64) (*Loan, error)
	// Find returns the record including soft-deleted ones.
	Find(ctx context.Context, loanID uint64) (*Loan, error)
	// Update overwrites the mutable fields, unless the stored record carries a
	// newer ledger sequence, in which case it returns ErrStaleWrite.
	Update(ctx context.Context, l *Loan) error
	Delete(ctx context.Context, loanID uint64, deletedBy string) error
	List(ctx context.Context, f Filter) ([]Loan, error)
}
