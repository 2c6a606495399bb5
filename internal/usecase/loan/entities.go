package loan

import (
	"time"

	"github.com/shopspring/decimal"

	domain "p2plend/internal/domain/loan"
)

type CreateIntentInput struct {
	Kind           domain.Kind     `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	DurationMonths uint32          `json:"duration_months"`
	Creator        string          `json:"creator"`
}

type LoanDTO struct {
	LoanID          uint64          `json:"loan_id"`
	Amount          decimal.Decimal `json:"amount"`
	InterestRate    decimal.Decimal `json:"interest_rate"`
	DurationMonths  uint32          `json:"duration_months"`
	TotalDue        decimal.Decimal `json:"total_due"`
	Borrower        string          `json:"borrower,omitempty"`
	Lender          string          `json:"lender,omitempty"`
	CreatedBy       string          `json:"created_by"`
	Status          string          `json:"status"`
	IsFunded        bool            `json:"is_funded"`
	IsRepaid        bool            `json:"is_repaid"`
	Deleted         bool            `json:"deleted,omitempty"`
	LedgerSeq       uint64          `json:"ledger_seq"`
	TxHash          string          `json:"tx_hash"`
	StatusUpdatedAt time.Time       `json:"status_updated_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Result is what a confirmed mutation returns.
type Result struct {
	Loan   *LoanDTO `json:"loan"`
	TxHash string   `json:"tx_hash"`
}

// SweepReport summarizes one pass over every known loan.
type SweepReport struct {
	Checked  int      `json:"checked"`
	Repaired int      `json:"repaired"`
	Failed   []uint64 `json:"failed,omitempty"`
}

func ToDTO(l *domain.Loan) *LoanDTO {
	return &LoanDTO{
		LoanID:          l.LoanID,
		Amount:          l.Amount,
		InterestRate:    l.InterestRate,
		DurationMonths:  l.DurationMonths,
		TotalDue:        domain.RepaymentDue(l.Amount, l.InterestRate),
		Borrower:        l.Borrower,
		Lender:          l.Lender,
		CreatedBy:       l.CreatedBy,
		Status:          string(l.Status),
		IsFunded:        l.IsFunded,
		IsRepaid:        l.IsRepaid,
		Deleted:         l.DeletedAt.Valid,
		LedgerSeq:       l.LedgerSeq,
		TxHash:          l.TxHash,
		StatusUpdatedAt: l.StatusUpdatedAt,
		CreatedAt:       l.CreatedAt,
	}
}

// ConfirmedDTO renders the ledger state a PersistenceError carries, so callers
// can show what the ledger accepted while the record catches up.
func ConfirmedDTO(s *domain.LedgerState) *LoanDTO {
	if s == nil {
		return nil
	}
	dto := ToDTO(domain.FromLedger(s, time.Now()))
	dto.Deleted = s.Deleted
	return dto
}
