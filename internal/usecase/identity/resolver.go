package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	loanDomain "p2plend/internal/domain/loan"
	"p2plend/internal/domain/party"
)

const (
	defaultTTL = 10 * time.Minute
	// unknown addresses are remembered briefly so listings do not hammer the store
	negativeTTL = 30 * time.Second
)

type unknownParty struct{}

// Resolver maps wallet addresses to party profiles. It never touches loans.
type Resolver struct {
	repo  party.Repository
	cache *cache.Cache
}

func NewResolver(repo party.Repository, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Resolver{repo: repo, cache: cache.New(ttl, 2*ttl)}
}

// Resolve returns the profile registered for address.
func (r *Resolver) Resolve(ctx context.Context, address string) (*party.Party, error) {
	addr, err := party.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if cached, found := r.cache.Get(addr); found {
		if p, ok := cached.(*party.Party); ok {
			cp := *p
			return &cp, nil
		}
		return nil, party.ErrNotFound
	}

	p, err := r.repo.GetByAddress(ctx, addr)
	if errors.Is(err, party.ErrNotFound) {
		r.cache.Set(addr, unknownParty{}, negativeTTL)
		return nil, party.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.cache.Set(addr, p, cache.DefaultExpiration)
	cp := *p
	return &cp, nil
}

func (r *Resolver) Register(ctx context.Context, in RegisterInput) (*party.Party, error) {
	addr, err := party.NormalizeAddress(in.Address)
	if err != nil {
		return nil, err
	}
	p := &party.Party{
		Address:     addr,
		FirstName:   strings.TrimSpace(in.FirstName),
		LastName:    strings.TrimSpace(in.LastName),
		Email:       strings.TrimSpace(in.Email),
		CreditScore: in.CreditScore,
	}
	if err := r.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	r.cache.Set(addr, p, cache.DefaultExpiration)
	cp := *p
	return &cp, nil
}

// RoleOf reports the side address holds on l.
func RoleOf(l *loanDomain.Loan, address string) party.Role {
	addr, err := party.NormalizeAddress(address)
	if err != nil {
		return party.RoleNone
	}
	switch addr {
	case l.Borrower:
		return party.RoleBorrower
	case l.Lender:
		return party.RoleLender
	}
	return party.RoleNone
}

func ToDTO(p *party.Party) *PartyDTO {
	if p == nil {
		return nil
	}
	return &PartyDTO{
		Address:     p.Address,
		DisplayName: p.DisplayName(),
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Email:       p.Email,
		CreditScore: p.CreditScore,
	}
}
