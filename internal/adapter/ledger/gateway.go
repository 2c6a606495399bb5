package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"

	chainDomain "p2plend/internal/domain/ledger"
	loanDomain "p2plend/internal/domain/loan"
	"p2plend/internal/infrastructure/metrics"
)

const defaultConfirmTimeout = 60 * time.Second

// Gateway submits loan contract calls through a wallet signer and waits for
// their confirmation. It holds no state of its own.
type Gateway struct {
	signer         chainDomain.Signer
	reader         chainDomain.Reader
	confirmTimeout time.Duration
	log            *slog.Logger
}

var _ loanDomain.Ledger = (*Gateway)(nil)

func NewGateway(signer chainDomain.Signer, reader chainDomain.Reader, confirmTimeout time.Duration, log *slog.Logger) *Gateway {
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{signer: signer, reader: reader, confirmTimeout: confirmTimeout, log: log}
}

func (g *Gateway) CreateOffer(ctx context.Context, from string, amount, rate decimal.Decimal, duration uint32) (*loanDomain.Receipt, error) {
	return g.submit(ctx, chainDomain.Op{
		Method: chainDomain.MethodCreateOffer, From: from,
		Amount: amount, InterestRate: rate, DurationMonths: duration,
	})
}

func (g *Gateway) CreateRequest(ctx context.Context, from string, amount, rate decimal.Decimal, duration uint32) (*loanDomain.Receipt, error) {
	return g.submit(ctx, chainDomain.Op{
		Method: chainDomain.MethodRequestLoan, From: from,
		Amount: amount, InterestRate: rate, DurationMonths: duration,
	})
}

func (g *Gateway) AcceptMatch(ctx context.Context, from string, loanID uint64) (*loanDomain.Receipt, error) {
	return g.submit(ctx, chainDomain.Op{Method: chainDomain.MethodAcceptLoan, From: from, LoanID: loanID})
}

func (g *Gateway) FundLoan(ctx context.Context, from string, loanID uint64, value decimal.Decimal) (*loanDomain.Receipt, error) {
	return g.submit(ctx, chainDomain.Op{Method: chainDomain.MethodFundLoan, From: from, LoanID: loanID, Value: value})
}

func (g *Gateway) RepayLoan(ctx context.Context, from string, loanID uint64, value decimal.Decimal) (*loanDomain.Receipt, error) {
	return g.submit(ctx, chainDomain.Op{Method: chainDomain.MethodRepayLoan, From: from, LoanID: loanID, Value: value})
}

func (g *Gateway) CancelLoan(ctx context.Context, from string, loanID uint64) (*loanDomain.Receipt, error) {
	return g.submit(ctx, chainDomain.Op{Method: chainDomain.MethodDeleteLoan, From: from, LoanID: loanID})
}

func (g *Gateway) GetLoan(ctx context.Context, loanID uint64) (*loanDomain.LedgerState, error) {
	st, err := g.reader.ReadLoan(ctx, loanID)
	if err != nil {
		if errors.Is(err, loanDomain.ErrNotFound) {
			return nil, err
		}
		return nil, loanDomain.WalletError{Op: "readLoan", Err: pkgerrors.Wrap(err, "ledger read failed")}
	}
	return st, nil
}

func (g *Gateway) LoanIDs(ctx context.Context) ([]uint64, error) {
	ids, err := g.reader.LoanIDs(ctx)
	if err != nil {
		return nil, loanDomain.WalletError{Op: "loanIds", Err: pkgerrors.Wrap(err, "ledger read failed")}
	}
	return ids, nil
}

func (g *Gateway) submit(ctx context.Context, op chainDomain.Op) (*loanDomain.Receipt, error) {
	method := string(op.Method)
	if err := g.checkAccount(ctx, op); err != nil {
		return nil, err
	}

	h, err := g.signer.SignAndSubmit(ctx, op)
	if err != nil {
		metrics.LedgerSubmissions.WithLabelValues(method, "wallet_error").Inc()
		return nil, loanDomain.WalletError{Op: method, Err: pkgerrors.Wrap(err, "sign and submit")}
	}
	g.log.Info("ledger tx submitted", "method", method, "tx", h.Hash, "from", op.From, "loan_id", op.LoanID)

	// Abandoning the wait never recalls the transaction: it is already on its way.
	wctx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()
	start := time.Now()
	conf, err := g.signer.AwaitConfirmation(wctx, h)
	metrics.LedgerConfirmSeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		metrics.LedgerSubmissions.WithLabelValues(method, "pending").Inc()
		return nil, loanDomain.PendingError{Op: method, LoanID: op.LoanID, TxHash: h.Hash, Err: err}
	default:
		metrics.LedgerSubmissions.WithLabelValues(method, "wallet_error").Inc()
		return nil, loanDomain.WalletError{Op: method, Err: pkgerrors.Wrapf(err, "await confirmation of %s", h.Hash)}
	}

	if conf.Reverted {
		metrics.LedgerSubmissions.WithLabelValues(method, "reverted").Inc()
		return nil, loanDomain.LedgerRejectedError{Op: method, TxHash: h.Hash, Reason: conf.Reason}
	}
	if !conf.Confirmed || conf.State == nil {
		metrics.LedgerSubmissions.WithLabelValues(method, "pending").Inc()
		return nil, loanDomain.PendingError{Op: method, LoanID: op.LoanID, TxHash: h.Hash, Err: errors.New("confirmation without ledger state")}
	}
	metrics.LedgerSubmissions.WithLabelValues(method, "confirmed").Inc()

	st := *conf.State
	if st.TxHash == "" {
		st.TxHash = h.Hash
	}
	return &loanDomain.Receipt{TxHash: h.Hash, State: st}, nil
}

func (g *Gateway) checkAccount(ctx context.Context, op chainDomain.Op) error {
	accounts, err := g.signer.RequestAccounts(ctx)
	if err != nil {
		return loanDomain.WalletError{Op: string(op.Method), Err: pkgerrors.Wrap(err, "request accounts")}
	}
	if len(accounts) == 0 {
		return nil
	}
	for _, a := range accounts {
		if strings.EqualFold(a, op.From) {
			return nil
		}
	}
	return loanDomain.WalletError{Op: string(op.Method), Err: pkgerrors.Errorf("signer holds no account for %s", op.From)}
}
