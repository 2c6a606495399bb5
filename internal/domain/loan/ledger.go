package loan

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerState is the contract's view of one loan after its last confirmed
// transaction.
type LedgerState struct {
	LoanID         uint64          `json:"loan_id"`
	Amount         decimal.Decimal `json:"amount"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	DurationMonths uint32          `json:"duration_months"`
	Borrower       string          `json:"borrower"`
	Lender         string          `json:"lender"`
	CreatedBy      string          `json:"created_by"`
	Status         Status          `json:"status"`
	IsFunded       bool            `json:"is_funded"`
	IsRepaid       bool            `json:"is_repaid"`
	Deleted        bool            `json:"deleted"`
	Seq            uint64          `json:"seq"`
	TxHash         string          `json:"tx_hash"`
}

// Receipt is returned by every confirmed ledger operation.
type Receipt struct {
	TxHash string
	State  LedgerState
}

// Ledger is the gateway to the append-only ledger. It is the only component
// allowed to submit transactions; every mutating call blocks until the
// transaction is confirmed, reverted or the wait is abandoned.
type Ledger interface {
	CreateOffer(ctx context.Context, from string, amount, interestRate decimal.Decimal, durationMonths uint32) (*Receipt, error)
	CreateRequest(ctx context.Context, from string, amount, interestRate decimal.Decimal, durationMonths uint32) (*Receipt, error)
	AcceptMatch(ctx context.Context, from string, loanID uint64) (*Receipt, error)
	FundLoan(ctx context.Context, from string, loanID uint64, value decimal.Decimal) (*Receipt, error)
	RepayLoan(ctx context.Context, from string, loanID uint64, value decimal.Decimal) (*Receipt, error)
	CancelLoan(ctx context.Context, from string, loanID uint64) (*Receipt, error)

	GetLoan(ctx context.Context, loanID uint64) (*LedgerState, error)
	LoanIDs(ctx context.Context) ([]uint64, error)
}

// FromLedger builds the record that projects s. statusAt stamps the status
// change time.
func FromLedger(s *LedgerState, statusAt time.Time) *Loan {
	status := s.Status
	if s.Deleted {
		status = StatusCancelled
	}
	return &Loan{
		LoanID:          s.LoanID,
		Amount:          s.Amount,
		InterestRate:    s.InterestRate,
		DurationMonths:  s.DurationMonths,
		Borrower:        s.Borrower,
		Lender:          s.Lender,
		CreatedBy:       s.CreatedBy,
		Status:          status,
		IsFunded:        s.IsFunded,
		IsRepaid:        s.IsRepaid,
		LedgerSeq:       s.Seq,
		TxHash:          s.TxHash,
		StatusUpdatedAt: statusAt.UTC(),
	}
}
