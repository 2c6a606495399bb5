package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	pkgerrors "github.com/pkg/errors"
	"github.com/shopspring/decimal"

	chainDomain "p2plend/internal/domain/ledger"
	loanDomain "p2plend/internal/domain/loan"
	"p2plend/internal/domain/party"
)

const (
	defaultSignerTimeout = 10 * time.Second
	defaultPollInterval  = time.Second
)

// HTTPSigner talks to a wallet signer sidecar that holds the keys and a node
// connection. Currency amounts cross the wire as hex wei.
//
//	GET  /accounts             -> {"accounts": ["0x.."]}
//	POST /transactions         -> {"hash": "0x.."}
//	GET  /transactions/{hash}  -> confirmation, 404 when unknown
//	GET  /loans                -> {"loan_ids": [1, 2]}
//	GET  /loans/{id}           -> loan state, 404 when unknown
type HTTPSigner struct {
	baseURL string
	client  *http.Client
	poll    time.Duration
}

var (
	_ chainDomain.Signer = (*HTTPSigner)(nil)
	_ chainDomain.Reader = (*HTTPSigner)(nil)
)

// errNotMined keeps AwaitConfirmation polling.
var errNotMined = errors.New("transaction not mined yet")

func NewHTTPSigner(baseURL string, timeout, poll time.Duration) *HTTPSigner {
	if timeout <= 0 {
		timeout = defaultSignerTimeout
	}
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &HTTPSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		poll:    poll,
	}
}

type wireOp struct {
	Method         string       `json:"method"`
	From           string       `json:"from"`
	LoanID         uint64       `json:"loan_id,omitempty"`
	Amount         *hexutil.Big `json:"amount,omitempty"`
	InterestRate   string       `json:"interest_rate,omitempty"`
	DurationMonths uint32       `json:"duration_months,omitempty"`
	Value          *hexutil.Big `json:"value,omitempty"`
}

type wireState struct {
	LoanID         uint64          `json:"loan_id"`
	Amount         *hexutil.Big    `json:"amount"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	DurationMonths uint32          `json:"duration_months"`
	Borrower       string          `json:"borrower"`
	Lender         string          `json:"lender"`
	CreatedBy      string          `json:"created_by"`
	Status         string          `json:"status"`
	IsFunded       bool            `json:"is_funded"`
	IsRepaid       bool            `json:"is_repaid"`
	Deleted        bool            `json:"deleted"`
	Seq            uint64          `json:"seq"`
	TxHash         string          `json:"tx_hash"`
}

type wireConfirmation struct {
	Confirmed bool       `json:"confirmed"`
	Reverted  bool       `json:"reverted"`
	Reason    string     `json:"reason,omitempty"`
	State     *wireState `json:"state,omitempty"`
}

type wireError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func toWireOp(op chainDomain.Op) wireOp {
	w := wireOp{
		Method:         string(op.Method),
		From:           op.From,
		LoanID:         op.LoanID,
		DurationMonths: op.DurationMonths,
	}
	if !op.Amount.IsZero() {
		w.Amount = (*hexutil.Big)(loanDomain.ToBaseUnits(op.Amount))
	}
	if !op.InterestRate.IsZero() {
		w.InterestRate = op.InterestRate.String()
	}
	if !op.Value.IsZero() {
		w.Value = (*hexutil.Big)(loanDomain.ToBaseUnits(op.Value))
	}
	return w
}

func (w *wireState) toState() (*loanDomain.LedgerState, error) {
	st := &loanDomain.LedgerState{
		LoanID:         w.LoanID,
		InterestRate:   w.InterestRate,
		DurationMonths: w.DurationMonths,
		Status:         loanDomain.Status(w.Status),
		IsFunded:       w.IsFunded,
		IsRepaid:       w.IsRepaid,
		Deleted:        w.Deleted,
		Seq:            w.Seq,
		TxHash:         w.TxHash,
	}
	if w.Amount != nil {
		st.Amount = loanDomain.FromBaseUnits(w.Amount.ToInt())
	}
	if !st.Status.Valid() {
		return nil, pkgerrors.Errorf("loan %d: unknown status %q", w.LoanID, w.Status)
	}
	var err error
	for _, f := range []struct {
		dst *string
		src string
	}{{&st.Borrower, w.Borrower}, {&st.Lender, w.Lender}, {&st.CreatedBy, w.CreatedBy}} {
		if f.src == "" || f.src == zeroAddress {
			continue
		}
		if *f.dst, err = party.NormalizeAddress(f.src); err != nil {
			return nil, pkgerrors.Wrapf(err, "loan %d", w.LoanID)
		}
	}
	return st, nil
}

// zeroAddress is what the contract reports for an unset side.
const zeroAddress = "0x0000000000000000000000000000000000000000"

func (s *HTTPSigner) RequestAccounts(ctx context.Context) ([]string, error) {
	var out struct {
		Accounts []string `json:"accounts"`
	}
	if err := s.do(ctx, http.MethodGet, "/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

func (s *HTTPSigner) SignAndSubmit(ctx context.Context, op chainDomain.Op) (chainDomain.TxHandle, error) {
	var out chainDomain.TxHandle
	if err := s.do(ctx, http.MethodPost, "/transactions", toWireOp(op), &out); err != nil {
		return chainDomain.TxHandle{}, err
	}
	if out.Hash == "" {
		return chainDomain.TxHandle{}, pkgerrors.New("signer returned no transaction hash")
	}
	return out, nil
}

// AwaitConfirmation polls until the transaction is mined or ctx ends. Network
// errors while polling are retried; the transaction is already submitted.
func (s *HTTPSigner) AwaitConfirmation(ctx context.Context, h chainDomain.TxHandle) (chainDomain.Confirmation, error) {
	poll := func() (chainDomain.Confirmation, error) {
		var w wireConfirmation
		err := s.do(ctx, http.MethodGet, "/transactions/"+h.Hash, nil, &w)
		switch {
		case errors.Is(err, errNotFoundStatus):
			return chainDomain.Confirmation{}, backoff.Permanent(chainDomain.ErrUnknownTx)
		case err != nil:
			return chainDomain.Confirmation{}, err
		case !w.Confirmed:
			return chainDomain.Confirmation{}, errNotMined
		}
		conf := chainDomain.Confirmation{Confirmed: true, Reverted: w.Reverted, Reason: w.Reason}
		if w.State != nil {
			st, err := w.State.toState()
			if err != nil {
				return chainDomain.Confirmation{}, backoff.Permanent(err)
			}
			conf.State = st
		}
		return conf, nil
	}
	return backoff.RetryWithData(poll, backoff.WithContext(backoff.NewConstantBackOff(s.poll), ctx))
}

func (s *HTTPSigner) ReadLoan(ctx context.Context, loanID uint64) (*loanDomain.LedgerState, error) {
	var w wireState
	err := s.do(ctx, http.MethodGet, "/loans/"+strconv.FormatUint(loanID, 10), nil, &w)
	if errors.Is(err, errNotFoundStatus) {
		return nil, loanDomain.NotFoundError{Resource: "loan"}
	}
	if err != nil {
		return nil, err
	}
	return w.toState()
}

func (s *HTTPSigner) LoanIDs(ctx context.Context) ([]uint64, error) {
	var out struct {
		LoanIDs []uint64 `json:"loan_ids"`
	}
	if err := s.do(ctx, http.MethodGet, "/loans", nil, &out); err != nil {
		return nil, err
	}
	return out.LoanIDs, nil
}

var errNotFoundStatus = errors.New("signer returned 404")

func (s *HTTPSigner) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return pkgerrors.Wrap(err, "encode signer request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return pkgerrors.Wrap(err, "build signer request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// keep context errors recognisable for the pending path
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return pkgerrors.Wrapf(chainDomain.ErrNetwork, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFoundStatus
	}
	if resp.StatusCode >= 300 {
		var we wireError
		_ = json.NewDecoder(resp.Body).Decode(&we)
		if we.Code == "user_rejected" || resp.StatusCode == http.StatusForbidden {
			return pkgerrors.Wrap(chainDomain.ErrUserRejected, we.Error)
		}
		return pkgerrors.Wrapf(chainDomain.ErrNetwork, "%s %s returned %d: %s", method, path, resp.StatusCode, we.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrapf(err, "decode %s response", path)
	}
	return nil
}
