package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	chainDomain "p2plend/internal/domain/ledger"
	loanDomain "p2plend/internal/domain/loan"
	"p2plend/internal/infrastructure/chain"
	"p2plend/internal/logging"
)

const (
	borrower = "0x1111111111111111111111111111111111111111"
	lender   = "0x2222222222222222222222222222222222222222"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newChainGateway(timeout time.Duration, opts ...chain.Option) (*Gateway, *chain.Chain) {
	ch := chain.New(opts...)
	return NewGateway(ch, ch, timeout, logging.Discard()), ch
}

func TestGateway_ConfirmedReceiptCarriesState(t *testing.T) {
	g, _ := newChainGateway(time.Second)
	ctx := context.Background()

	rcpt, err := g.CreateRequest(ctx, borrower, dec("2"), dec("6"), 12)
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if rcpt.TxHash == "" || rcpt.State.TxHash != rcpt.TxHash {
		t.Fatalf("receipt hash not propagated: %+v", rcpt)
	}
	if rcpt.State.Status != loanDomain.StatusRequested || rcpt.State.Borrower != borrower || rcpt.State.Seq == 0 {
		t.Fatalf("unexpected state: %+v", rcpt.State)
	}

	id := rcpt.State.LoanID
	if _, err := g.AcceptMatch(ctx, lender, id); err != nil {
		t.Fatalf("AcceptMatch: %v", err)
	}
	if _, err := g.FundLoan(ctx, lender, id, dec("2")); err != nil {
		t.Fatalf("FundLoan: %v", err)
	}
	rcpt, err = g.RepayLoan(ctx, borrower, id, dec("2.12"))
	if err != nil {
		t.Fatalf("RepayLoan: %v", err)
	}
	if !rcpt.State.IsRepaid || rcpt.State.Status != loanDomain.StatusRepaid {
		t.Fatalf("after repay: %+v", rcpt.State)
	}
}

func TestGateway_RevertIsLedgerRejected(t *testing.T) {
	g, _ := newChainGateway(time.Second)
	ctx := context.Background()
	rcpt, _ := g.CreateRequest(ctx, borrower, dec("1"), dec("5"), 1)
	_, _ = g.AcceptMatch(ctx, lender, rcpt.State.LoanID)

	_, err := g.FundLoan(ctx, lender, rcpt.State.LoanID, dec("0.5"))
	var rej loanDomain.LedgerRejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("want LedgerRejectedError, got %v", err)
	}
	if rej.TxHash == "" || rej.Reason == "" || rej.Op != string(chainDomain.MethodFundLoan) {
		t.Fatalf("rejection lacks detail: %+v", rej)
	}
}

func TestGateway_ConfirmationTimeoutIsPending(t *testing.T) {
	g, ch := newChainGateway(20*time.Millisecond)
	ch.SetConfirmDelay(time.Second)

	_, err := g.CreateOffer(context.Background(), lender, dec("1"), dec("5"), 1)
	var p loanDomain.PendingError
	if !errors.As(err, &p) || p.TxHash == "" {
		t.Fatalf("want PendingError with hash, got %v", err)
	}

	// the transaction went through regardless
	ids, _ := ch.LoanIDs(context.Background())
	if len(ids) != 1 {
		t.Fatalf("ledger loans = %v, want one", ids)
	}
}

func TestGateway_CallerCancelIsPending(t *testing.T) {
	g, ch := newChainGateway(time.Second)
	ch.SetConfirmDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.CreateOffer(ctx, lender, dec("1"), dec("5"), 1); !errors.Is(err, loanDomain.ErrPending) {
		t.Fatalf("want PendingError, got %v", err)
	}
}

func TestGateway_SignerFailuresAreWalletErrors(t *testing.T) {
	t.Run("account not held", func(t *testing.T) {
		g, ch := newChainGateway(time.Second, chain.WithAccounts(lender))
		_, err := g.CreateRequest(context.Background(), borrower, dec("1"), dec("5"), 1)
		if !errors.Is(err, loanDomain.ErrWallet) {
			t.Fatalf("want WalletError, got %v", err)
		}
		if ids, _ := ch.LoanIDs(context.Background()); len(ids) != 0 {
			t.Fatalf("nothing should be submitted, got %v", ids)
		}
	})
	t.Run("account check ignores case", func(t *testing.T) {
		g, _ := newChainGateway(time.Second, chain.WithAccounts("0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD"))
		if _, err := g.CreateRequest(context.Background(), "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd", dec("1"), dec("5"), 1); err != nil {
			t.Fatalf("CreateRequest: %v", err)
		}
	})
	t.Run("user rejected", func(t *testing.T) {
		g, _ := newChainGateway(time.Second, chain.WithSubmitHook(func(chainDomain.Op) error { return chainDomain.ErrUserRejected }))
		_, err := g.CreateRequest(context.Background(), borrower, dec("1"), dec("5"), 1)
		if !errors.Is(err, loanDomain.ErrWallet) || !errors.Is(err, chainDomain.ErrUserRejected) {
			t.Fatalf("want WalletError wrapping ErrUserRejected, got %v", err)
		}
	})
}

func TestGateway_Reads(t *testing.T) {
	g, _ := newChainGateway(time.Second)
	ctx := context.Background()
	if _, err := g.GetLoan(ctx, 42); !errors.Is(err, loanDomain.ErrNotFound) {
		t.Fatalf("want NotFound, got %v", err)
	}
	rcpt, _ := g.CreateRequest(ctx, borrower, dec("1"), dec("5"), 1)
	st, err := g.GetLoan(ctx, rcpt.State.LoanID)
	if err != nil || st.Seq != rcpt.State.Seq {
		t.Fatalf("GetLoan = %+v, %v", st, err)
	}
	ids, err := g.LoanIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != rcpt.State.LoanID {
		t.Fatalf("LoanIDs = %v, %v", ids, err)
	}
}
