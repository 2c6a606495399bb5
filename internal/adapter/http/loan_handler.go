package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"p2plend/internal/adapter/middleware"
	domain "p2plend/internal/domain/loan"
	"p2plend/internal/usecase/loan"
)

type LoanHandler struct{ coord *loan.Coordinator }

func NewLoanHandler(coord *loan.Coordinator) *LoanHandler { return &LoanHandler{coord: coord} }

type createIntentReq struct {
	Amount         string `json:"amount"          validate:"required,decimal"`
	InterestRate   string `json:"interest_rate"   validate:"required,decimal"`
	DurationMonths uint32 `json:"duration_months" validate:"required,gte=1,lte=600"`
}

func (h *LoanHandler) CreateOffer(c echo.Context) error {
	return h.createIntent(c, domain.KindOffer)
}

func (h *LoanHandler) CreateRequest(c echo.Context) error {
	return h.createIntent(c, domain.KindRequest)
}

func (h *LoanHandler) createIntent(c echo.Context, kind domain.Kind) error {
	creator, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	var req createIntentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation failed",
			Details: ToFieldErrors(err),
		})
	}
	res, err := h.coord.CreateIntent(c.Request().Context(), loan.CreateIntentInput{
		Kind:           kind,
		Amount:         decimal.RequireFromString(req.Amount),
		InterestRate:   decimal.RequireFromString(req.InterestRate),
		DurationMonths: req.DurationMonths,
		Creator:        creator,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *LoanHandler) GetLoan(c echo.Context) error {
	loanID, err := loanIDParam(c)
	if err != nil {
		return writeError(c, err)
	}
	dto, err := h.coord.Get(c.Request().Context(), loanID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) AcceptMatch(c echo.Context) error {
	return h.mutate(c, h.coord.AcceptMatch)
}

func (h *LoanHandler) FundLoan(c echo.Context) error {
	return h.mutate(c, h.coord.FundLoan)
}

func (h *LoanHandler) RepayLoan(c echo.Context) error {
	return h.mutate(c, h.coord.RepayLoan)
}

func (h *LoanHandler) CancelLoan(c echo.Context) error {
	return h.mutate(c, h.coord.Cancel)
}

// Reconcile forces a ledger re-read of one loan. Anyone may trigger it; it
// can only move the record towards the ledger.
func (h *LoanHandler) Reconcile(c echo.Context) error {
	loanID, err := loanIDParam(c)
	if err != nil {
		return writeError(c, err)
	}
	dto, err := h.coord.Reconcile(c.Request().Context(), loanID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type loanOp func(ctx context.Context, loanID uint64, caller string) (*loan.Result, error)

func (h *LoanHandler) mutate(c echo.Context, op loanOp) error {
	loanID, err := loanIDParam(c)
	if err != nil {
		return writeError(c, err)
	}
	who, err := caller(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := op(c.Request().Context(), loanID, who)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func loanIDParam(c echo.Context) (uint64, error) {
	raw := c.Param("loan_id")
	if raw == "" {
		return 0, requestError{http.StatusBadRequest, "missing loan_id path param"}
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, requestError{http.StatusBadRequest, "loan_id must be an unsigned integer"}
	}
	return id, nil
}

// caller is the wallet the request acts for. Mutations without one are
// rejected before any ledger call.
func caller(c echo.Context) (string, error) {
	addr, err := middleware.CallerWallet(c)
	if errors.Is(err, middleware.ErrMissingWallet) {
		return "", requestError{http.StatusUnauthorized, err.Error()}
	}
	if err != nil {
		return "", requestError{http.StatusBadRequest, "invalid " + middleware.HeaderWalletAddress}
	}
	return addr, nil
}
