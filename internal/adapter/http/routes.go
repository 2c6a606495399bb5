package http

import (
	"github.com/labstack/echo/v4"
)

// Handlers groups everything Register mounts.
type Handlers struct {
	Health  *Handler
	Loans   *LoanHandler
	Views   *ViewHandler
	Parties *PartyHandler
}

// Register mounts the API routes. mutating wraps every route that may reach
// the ledger or write a record (usually the idempotency middleware).
func Register(e *echo.Echo, h Handlers, mutating ...echo.MiddlewareFunc) {
	e.GET("/health", h.Health.Health)

	loans := e.Group("/loans")
	loans.GET("/:loan_id", h.Loans.GetLoan)
	loans.POST("/offers", h.Loans.CreateOffer, mutating...)
	loans.POST("/requests", h.Loans.CreateRequest, mutating...)
	loans.POST("/:loan_id/accept", h.Loans.AcceptMatch, mutating...)
	loans.POST("/:loan_id/fund", h.Loans.FundLoan, mutating...)
	loans.POST("/:loan_id/repay", h.Loans.RepayLoan, mutating...)
	loans.POST("/:loan_id/reconcile", h.Loans.Reconcile)
	loans.DELETE("/:loan_id", h.Loans.CancelLoan, mutating...)

	e.GET("/views", h.Views.Views)
	e.GET("/views/:view", h.Views.View)

	e.POST("/parties", h.Parties.Register, mutating...)
	e.GET("/parties/:address", h.Parties.GetParty)
}
