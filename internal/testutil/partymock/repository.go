package partymock

import (
	"context"

	"p2plend/internal/domain/party"
)

var _ party.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies party.Repository.
type Repo struct {
	CreateFn       func(ctx context.Context, p *party.Party) error
	GetByAddressFn func(ctx context.Context, address string) (*party.Party, error)
}

func (m *Repo) Create(ctx context.Context, p *party.Party) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, p)
	}
	return nil
}

func (m *Repo) GetByAddress(ctx context.Context, address string) (*party.Party, error) {
	if m.GetByAddressFn != nil {
		return m.GetByAddressFn(ctx, address)
	}
	return nil, party.ErrNotFound
}
