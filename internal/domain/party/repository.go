package party

import "context"

type Repository interface {
	Create(ctx context.Context, p *Party) error
	GetByAddress(ctx context.Context, address string) (*Party, error)
}
