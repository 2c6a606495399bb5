package mysql

import (
	"context"
	"errors"
	"testing"

	partyDomain "p2plend/internal/domain/party"
)

func TestPartyRepository_CreateAndGet(t *testing.T) {
	repo := NewPartyRepository(openTestDB(t))
	ctx := context.Background()

	p := &partyDomain.Party{Address: alice, FirstName: "Alice", LastName: "Liddell", CreditScore: 700}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("Create did not set ID")
	}

	got, err := repo.GetByAddress(ctx, alice)
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	if got.DisplayName() != "Alice Liddell" || got.CreditScore != 700 {
		t.Fatalf("unexpected party: %+v", got)
	}

	if err := repo.Create(ctx, &partyDomain.Party{Address: alice}); !errors.Is(err, partyDomain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestPartyRepository_NotFound(t *testing.T) {
	repo := NewPartyRepository(openTestDB(t))
	if _, err := repo.GetByAddress(context.Background(), bob); !errors.Is(err, partyDomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
