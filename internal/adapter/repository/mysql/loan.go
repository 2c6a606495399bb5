package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	loanDomain "p2plend/internal/domain/loan"
)

type LoanRepository struct{ db *gorm.DB }

var _ loanDomain.Repository = (*LoanRepository)(nil)

func NewLoanRepository(db *gorm.DB) *LoanRepository { return &LoanRepository{db: db} }

// Tx runs fn in a db transaction, passing a repo bound to the tx
func (r *LoanRepository) Tx(ctx context.Context, fn func(repo *LoanRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&LoanRepository{db: tx})
	})
}

func (r *LoanRepository) Create(ctx context.Context, l *loanDomain.Loan) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *LoanRepository) GetByLoanID(ctx context.Context, loanID uint64) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	res := r.db.WithContext(ctx).Where("loan_id = ?", loanID).First(&out)
	if res.Error != nil {
		return nil, notFound(res.Error)
	}
	return &out, nil
}

func (r *LoanRepository) Find(ctx context.Context, loanID uint64) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	res := r.db.WithContext(ctx).Unscoped().Where("loan_id = ?", loanID).First(&out)
	if res.Error != nil {
		return nil, notFound(res.Error)
	}
	return &out, nil
}

// findForUpdate locks the row; sqlite ignores the locking clause.
func (r *LoanRepository) findForUpdate(ctx context.Context, loanID uint64) (*loanDomain.Loan, error) {
	var out loanDomain.Loan
	res := r.db.WithContext(ctx).Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("loan_id = ?", loanID).
		First(&out)
	if res.Error != nil {
		return nil, notFound(res.Error)
	}
	return &out, nil
}

func (r *LoanRepository) Update(ctx context.Context, l *loanDomain.Loan) error {
	return r.Tx(ctx, func(repo *LoanRepository) error {
		cur, err := repo.findForUpdate(ctx, l.LoanID)
		if err != nil {
			return err
		}
		if cur.LedgerSeq > l.LedgerSeq {
			return loanDomain.ErrStaleWrite
		}
		return repo.db.WithContext(ctx).Model(&loanDomain.Loan{}).Unscoped().
			Where("loan_id = ?", l.LoanID).
			Updates(map[string]any{
				"amount":            l.Amount,
				"interest_rate":     l.InterestRate,
				"duration_months":   l.DurationMonths,
				"borrower":          l.Borrower,
				"lender":            l.Lender,
				"created_by":        l.CreatedBy,
				"status":            l.Status,
				"is_funded":         l.IsFunded,
				"is_repaid":         l.IsRepaid,
				"ledger_seq":        l.LedgerSeq,
				"tx_hash":           l.TxHash,
				"status_updated_at": l.StatusUpdatedAt,
			}).Error
	})
}

// Delete soft-deletes the record. Deleting an already deleted record is a no-op.
func (r *LoanRepository) Delete(ctx context.Context, loanID uint64, deletedBy string) error {
	res := r.db.WithContext(ctx).Model(&loanDomain.Loan{}).
		Where("loan_id = ?", loanID).
		Updates(map[string]any{
			"deleted_at": time.Now().UTC(),
			"deleted_by": deletedBy,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		_, err := r.Find(ctx, loanID)
		return err
	}
	return nil
}

func (r *LoanRepository) List(ctx context.Context, f loanDomain.Filter) ([]loanDomain.Loan, error) {
	q := r.db.WithContext(ctx)
	if f.IncludeDeleted {
		q = q.Unscoped()
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.CreatedBy != "" {
		q = q.Where("created_by = ?", f.CreatedBy)
	}
	if f.Participant != "" {
		q = q.Where("(borrower = ? OR lender = ?)", f.Participant, f.Participant)
	}
	if f.NotBorrower != "" {
		q = q.Where("borrower <> ?", f.NotBorrower)
	}
	if f.NotLender != "" {
		q = q.Where("lender <> ?", f.NotLender)
	}
	if f.BorrowerUnset {
		q = q.Where("borrower = ''")
	}
	if f.LenderUnset {
		q = q.Where("lender = ''")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []loanDomain.Loan
	if err := q.Order("loan_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return loanDomain.NotFoundError{Resource: "loan"}
	}
	return err
}
