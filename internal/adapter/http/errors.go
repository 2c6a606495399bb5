package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	domain "p2plend/internal/domain/loan"
	"p2plend/internal/domain/party"
	loanUC "p2plend/internal/usecase/loan"
	"p2plend/internal/usecase/matching"
)

// acceptedResponse is returned with 202 when the ledger has moved (or may have
// moved) but the record has not caught up yet.
type acceptedResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	LoanID uint64          `json:"loan_id,omitempty"`
	TxHash string          `json:"tx_hash,omitempty"`
	Loan   *loanUC.LoanDTO `json:"loan,omitempty"`
}

const (
	statusRecordPending       = "record_pending"
	statusConfirmationPending = "confirmation_pending"
)

// requestError is a problem with the request itself, found before any
// usecase ran.
type requestError struct {
	code int
	msg  string
}

func (e requestError) Error() string { return e.msg }

// writeError maps domain errors → HTTP codes.
func writeError(c echo.Context, err error) error {
	var (
		re  requestError
		pe  domain.PersistenceError
		pnd domain.PendingError
		ve  domain.ValidationError
	)
	switch {
	case errors.As(err, &re):
		return c.JSON(re.code, ErrorResponse{Error: re.msg})
	case errors.As(err, &pe):
		return c.JSON(http.StatusAccepted, acceptedResponse{
			Status: statusRecordPending, Error: err.Error(),
			LoanID: pe.LoanID, TxHash: pe.TxHash, Loan: loanUC.ConfirmedDTO(pe.Confirmed),
		})
	case errors.As(err, &pnd):
		return c.JSON(http.StatusAccepted, acceptedResponse{
			Status: statusConfirmationPending, Error: err.Error(),
			LoanID: pnd.LoanID, TxHash: pnd.TxHash,
		})
	case errors.As(err, &ve):
		resp := ErrorResponse{Error: "validation failed"}
		if ve.Field != "" {
			resp.Details = []FieldError{{Field: ve.Field, Message: ve.Reason}}
		} else {
			resp.Error = err.Error()
		}
		return c.JSON(http.StatusUnprocessableEntity, resp)
	case errors.Is(err, party.ErrInvalidAddress):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrLedgerRejected):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, party.ErrNotFound), errors.Is(err, matching.ErrUnknownView):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, party.ErrAlreadyExists):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrWallet):
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	}
	c.Logger().Errorf("unhandled error: %v", err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
