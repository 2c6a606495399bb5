package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"p2plend/internal/domain/loan"
)

// Method names the loan contract entry point an Op calls.
type Method string

const (
	MethodCreateOffer Method = "createLoanOffer"
	MethodRequestLoan Method = "requestLoan"
	MethodAcceptLoan  Method = "acceptLoanOffer"
	MethodFundLoan    Method = "fundLoan"
	MethodRepayLoan   Method = "repayLoan"
	MethodDeleteLoan  Method = "deleteLoan"
)

var (
	ErrUserRejected = errors.New("user rejected the request")
	ErrNetwork      = errors.New("ledger network unavailable")
	ErrUnknownTx    = errors.New("unknown transaction")
)

// Op is one contract call to be signed by From. Value is the amount of
// currency attached to the call (fund, repay).
type Op struct {
	Method         Method          `json:"method"`
	From           string          `json:"from"`
	LoanID         uint64          `json:"loan_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	DurationMonths uint32          `json:"duration_months,omitempty"`
	Value          decimal.Decimal `json:"value"`
}

type TxHandle struct {
	Hash string `json:"hash"`
}

// Confirmation is the outcome of a mined transaction. A reverted transaction
// is confirmed but carries no state change.
type Confirmation struct {
	Confirmed bool              `json:"confirmed"`
	Reverted  bool              `json:"reverted"`
	Reason    string            `json:"reason,omitempty"`
	State     *loan.LedgerState `json:"state,omitempty"`
}

// Signer produces signed ledger transactions on behalf of wallet holders.
type Signer interface {
	// RequestAccounts lists the addresses the signer can sign for.
	// An empty list means any address.
	RequestAccounts(ctx context.Context) ([]string, error)
	SignAndSubmit(ctx context.Context, op Op) (TxHandle, error)
	AwaitConfirmation(ctx context.Context, h TxHandle) (Confirmation, error)
}

// Reader performs read-only contract calls.
type Reader interface {
	ReadLoan(ctx context.Context, loanID uint64) (*loan.LedgerState, error)
	LoanIDs(ctx context.Context) ([]uint64, error)
}
