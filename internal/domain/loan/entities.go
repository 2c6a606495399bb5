package loan

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusRequested Status = "Requested"
	StatusOffered   Status = "Offered"
	StatusMatched   Status = "Matched"
	StatusFunded    Status = "Funded"
	StatusRepaid    Status = "Repaid"
	StatusCancelled Status = "Cancelled"
)

// Kind is the side a party takes when it originates a loan.
type Kind string

const (
	KindRequest Kind = "request" // borrower asks for funds
	KindOffer   Kind = "offer"   // lender offers funds
)

// InitialStatus is the one-sided status a newly created loan of this kind starts in.
func (k Kind) InitialStatus() Status {
	if k == KindOffer {
		return StatusOffered
	}
	return StatusRequested
}

// Loan is the off-chain record: a projection of the ledger's last confirmed state.
// Amount and InterestRate are stored as decimal strings; SQLite's NUMERIC
// affinity would turn them into floats.
type Loan struct {
	ID              uint64          `gorm:"primaryKey;column:id" json:"-"`
	LoanID          uint64          `gorm:"column:loan_id;uniqueIndex:ux_loans_loan_id" json:"loan_id"`
	Amount          decimal.Decimal `gorm:"column:amount;type:varchar(40)" json:"amount"`
	InterestRate    decimal.Decimal `gorm:"column:interest_rate;type:varchar(12)" json:"interest_rate"`
	DurationMonths  uint32          `gorm:"column:duration_months" json:"duration_months"`
	Borrower        string          `gorm:"column:borrower;size:42;index:idx_loans_borrower" json:"borrower"`
	Lender          string          `gorm:"column:lender;size:42;index:idx_loans_lender" json:"lender"`
	CreatedBy       string          `gorm:"column:created_by;size:42;index:idx_loans_created_by" json:"created_by"`
	Status          Status          `gorm:"column:status;size:16;index:idx_loans_status" json:"status"`
	IsFunded        bool            `gorm:"column:is_funded" json:"is_funded"`
	IsRepaid        bool            `gorm:"column:is_repaid" json:"is_repaid"`
	LedgerSeq       uint64          `gorm:"column:ledger_seq" json:"ledger_seq"`
	TxHash          string          `gorm:"column:tx_hash;size:66" json:"tx_hash"`
	StatusUpdatedAt time.Time       `gorm:"column:status_updated_at" json:"status_updated_at"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt  `gorm:"column:deleted_at;index" json:"-"`
	DeletedBy       string          `gorm:"column:deleted_by;size:42" json:"-"`
}

func (Loan) TableName() string { return "loans" }

// OneSided reports whether the loan still waits for a counterparty.
func (l *Loan) OneSided() bool {
	return l.Status == StatusRequested || l.Status == StatusOffered
}

// Participant reports whether addr is the borrower or the lender.
func (l *Loan) Participant(addr string) bool {
	return addr != "" && (l.Borrower == addr || l.Lender == addr)
}

// SameProjection reports whether two records carry the same ledger-derived fields.
// Bookkeeping columns (ids, timestamps) are ignored.
func (l *Loan) SameProjection(o *Loan) bool {
	return l.LoanID == o.LoanID &&
		l.Amount.Equal(o.Amount) &&
		l.InterestRate.Equal(o.InterestRate) &&
		l.DurationMonths == o.DurationMonths &&
		l.Borrower == o.Borrower &&
		l.Lender == o.Lender &&
		l.CreatedBy == o.CreatedBy &&
		l.Status == o.Status &&
		l.IsFunded == o.IsFunded &&
		l.IsRepaid == o.IsRepaid &&
		l.LedgerSeq == o.LedgerSeq &&
		l.TxHash == o.TxHash
}

// CheckInvariants validates the record-level invariants that must hold after
// every coordinator operation.
func (l *Loan) CheckInvariants() error {
	switch {
	case l.IsFunded && l.Status != StatusFunded && l.Status != StatusRepaid:
		return invariantf("loan %d: is_funded set in status %s", l.LoanID, l.Status)
	case l.IsRepaid && l.Status != StatusRepaid:
		return invariantf("loan %d: is_repaid set in status %s", l.LoanID, l.Status)
	case l.Borrower != "" && l.Borrower == l.Lender:
		return invariantf("loan %d: borrower and lender are the same party", l.LoanID)
	case l.Status == StatusRequested && (l.Borrower == "" || l.Lender != ""):
		return invariantf("loan %d: requested loan must have only a borrower", l.LoanID)
	case l.Status == StatusOffered && (l.Lender == "" || l.Borrower != ""):
		return invariantf("loan %d: offered loan must have only a lender", l.LoanID)
	case (l.Status == StatusMatched || l.Status == StatusFunded || l.Status == StatusRepaid) &&
		(l.Borrower == "" || l.Lender == ""):
		return invariantf("loan %d: %s loan must have both parties", l.LoanID, l.Status)
	}
	return nil
}

// CheckSuccessor validates that next may replace l as the record of the same loan:
// creation fields are immutable and the status only moves forward.
func (l *Loan) CheckSuccessor(next *Loan) error {
	if l.LoanID != next.LoanID ||
		!l.Amount.Equal(next.Amount) ||
		!l.InterestRate.Equal(next.InterestRate) ||
		l.DurationMonths != next.DurationMonths ||
		l.CreatedBy != next.CreatedBy {
		return invariantf("loan %d: immutable fields changed", l.LoanID)
	}
	if !CanAdvance(l.Status, next.Status) {
		return invariantf("loan %d: illegal transition %s -> %s", l.LoanID, l.Status, next.Status)
	}
	if l.Borrower != "" && next.Borrower != l.Borrower {
		return invariantf("loan %d: borrower replaced", l.LoanID)
	}
	if l.Lender != "" && next.Lender != l.Lender {
		return invariantf("loan %d: lender replaced", l.LoanID)
	}
	return nil
}
