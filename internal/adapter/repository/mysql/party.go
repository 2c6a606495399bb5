package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	partyDomain "p2plend/internal/domain/party"
)

type PartyRepository struct{ db *gorm.DB }

var _ partyDomain.Repository = (*PartyRepository)(nil)

func NewPartyRepository(db *gorm.DB) *PartyRepository { return &PartyRepository{db: db} }

func (r *PartyRepository) Create(ctx context.Context, p *partyDomain.Party) error {
	if _, err := r.GetByAddress(ctx, p.Address); err == nil {
		return partyDomain.ErrAlreadyExists
	} else if !errors.Is(err, partyDomain.ErrNotFound) {
		return err
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PartyRepository) GetByAddress(ctx context.Context, address string) (*partyDomain.Party, error) {
	var out partyDomain.Party
	res := r.db.WithContext(ctx).Where("address = ?", address).First(&out)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, partyDomain.ErrNotFound
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &out, nil
}
