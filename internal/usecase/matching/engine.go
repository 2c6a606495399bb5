// Package matching serves the read views over the loan records. It never calls
// the ledger; staleness is bounded by the reconcile interval.
package matching

import (
	"context"
	"errors"
	"log/slog"

	loanDomain "p2plend/internal/domain/loan"
	"p2plend/internal/domain/party"
	"p2plend/internal/usecase/identity"
	loanUC "p2plend/internal/usecase/loan"
)

type View string

const (
	ViewOpenOffers   View = "open-offers"
	ViewOpenRequests View = "open-requests"
	ViewMyOffers     View = "my-offers"
	ViewMyRequests   View = "my-requests"
	ViewActive       View = "active"
	ViewCompleted    View = "completed"
)

// Views lists every view in display order.
var Views = []View{ViewOpenOffers, ViewOpenRequests, ViewMyOffers, ViewMyRequests, ViewActive, ViewCompleted}

// ErrUnknownView is returned by Engine.View for a name not in Views.
var ErrUnknownView = errors.New("unknown view")

type Listing struct {
	Loan         *loanUC.LoanDTO    `json:"loan"`
	Role         party.Role         `json:"role,omitempty"`
	Counterparty string             `json:"counterparty,omitempty"`
	Profile      *identity.PartyDTO `json:"counterparty_profile,omitempty"`
}

// PartyResolver looks up counterparty profiles.
type PartyResolver interface {
	Resolve(ctx context.Context, address string) (*party.Party, error)
}

type Engine struct {
	repo    loanDomain.Repository
	parties PartyResolver
	log     *slog.Logger
	limit   int
}

func NewEngine(repo loanDomain.Repository, parties PartyResolver, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{repo: repo, parties: parties, log: log, limit: 500}
}

// View dispatches by name.
func (e *Engine) View(ctx context.Context, name View, viewer string) ([]Listing, error) {
	switch name {
	case ViewOpenOffers:
		return e.OpenOffers(ctx, viewer)
	case ViewOpenRequests:
		return e.OpenRequests(ctx, viewer)
	case ViewMyOffers:
		return e.MyOffers(ctx, viewer)
	case ViewMyRequests:
		return e.MyRequests(ctx, viewer)
	case ViewActive:
		return e.ActiveLoans(ctx, viewer)
	case ViewCompleted:
		return e.CompletedLoans(ctx, viewer)
	}
	return nil, ErrUnknownView
}

// OpenOffers lists offers a viewer could accept. An empty viewer sees all.
func (e *Engine) OpenOffers(ctx context.Context, viewer string) ([]Listing, error) {
	v, err := optionalViewer(viewer)
	if err != nil {
		return nil, err
	}
	return e.list(ctx, v, loanDomain.Filter{
		Statuses:      []loanDomain.Status{loanDomain.StatusOffered},
		BorrowerUnset: true,
		NotLender:     v,
	})
}

// OpenRequests lists requests a viewer could fund. An empty viewer sees all.
func (e *Engine) OpenRequests(ctx context.Context, viewer string) ([]Listing, error) {
	v, err := optionalViewer(viewer)
	if err != nil {
		return nil, err
	}
	return e.list(ctx, v, loanDomain.Filter{
		Statuses:    []loanDomain.Status{loanDomain.StatusRequested},
		LenderUnset: true,
		NotBorrower: v,
	})
}

func (e *Engine) MyOffers(ctx context.Context, viewer string) ([]Listing, error) {
	v, err := requiredViewer(viewer)
	if err != nil {
		return nil, err
	}
	return e.list(ctx, v, loanDomain.Filter{
		Statuses:      []loanDomain.Status{loanDomain.StatusOffered},
		CreatedBy:     v,
		BorrowerUnset: true,
	})
}

func (e *Engine) MyRequests(ctx context.Context, viewer string) ([]Listing, error) {
	v, err := requiredViewer(viewer)
	if err != nil {
		return nil, err
	}
	return e.list(ctx, v, loanDomain.Filter{
		Statuses:    []loanDomain.Status{loanDomain.StatusRequested},
		CreatedBy:   v,
		LenderUnset: true,
	})
}

func (e *Engine) ActiveLoans(ctx context.Context, viewer string) ([]Listing, error) {
	v, err := requiredViewer(viewer)
	if err != nil {
		return nil, err
	}
	return e.list(ctx, v, loanDomain.Filter{
		Statuses:    []loanDomain.Status{loanDomain.StatusMatched, loanDomain.StatusFunded},
		Participant: v,
	})
}

func (e *Engine) CompletedLoans(ctx context.Context, viewer string) ([]Listing, error) {
	v, err := requiredViewer(viewer)
	if err != nil {
		return nil, err
	}
	return e.list(ctx, v, loanDomain.Filter{
		Statuses:    []loanDomain.Status{loanDomain.StatusRepaid},
		Participant: v,
	})
}

func (e *Engine) list(ctx context.Context, viewer string, f loanDomain.Filter) ([]Listing, error) {
	f.Limit = e.limit
	recs, err := e.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}

	profiles := map[string]*identity.PartyDTO{}
	out := make([]Listing, 0, len(recs))
	for i := range recs {
		l := &recs[i]
		item := Listing{Loan: loanUC.ToDTO(l), Role: identity.RoleOf(l, viewer), Counterparty: counterparty(l, viewer)}
		if item.Counterparty != "" {
			if p, seen := profiles[item.Counterparty]; seen {
				item.Profile = p
			} else {
				item.Profile = e.profile(ctx, item.Counterparty)
				profiles[item.Counterparty] = item.Profile
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// profile is best effort: a listing never fails on a missing profile.
func (e *Engine) profile(ctx context.Context, addr string) *identity.PartyDTO {
	if e.parties == nil {
		return nil
	}
	p, err := e.parties.Resolve(ctx, addr)
	if err != nil {
		if !errors.Is(err, party.ErrNotFound) {
			e.log.Warn("counterparty lookup failed", "address", addr, "err", err)
		}
		return nil
	}
	return identity.ToDTO(p)
}

// counterparty is the other side from the viewer, or the only party of a
// one-sided loan.
func counterparty(l *loanDomain.Loan, viewer string) string {
	switch {
	case viewer != "" && viewer == l.Borrower:
		return l.Lender
	case viewer != "" && viewer == l.Lender:
		return l.Borrower
	case l.Borrower != "" && l.Lender == "":
		return l.Borrower
	case l.Lender != "" && l.Borrower == "":
		return l.Lender
	}
	return ""
}

func optionalViewer(viewer string) (string, error) {
	if viewer == "" {
		return "", nil
	}
	return requiredViewer(viewer)
}

func requiredViewer(viewer string) (string, error) {
	v, err := party.NormalizeAddress(viewer)
	if err != nil {
		return "", loanDomain.ValidationError{Field: "viewer", Reason: "is not a valid wallet address"}
	}
	return v, nil
}
