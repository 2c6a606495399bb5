package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	domain "p2plend/internal/domain/loan"
	partyDomain "p2plend/internal/domain/party"
)

// openTestDB creates an in-memory sqlite DB with the production schema.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// every connection to :memory: is its own database
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&domain.Loan{}, &partyDomain.Party{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
)

func makeLoan(loanID uint64, borrower string) *domain.Loan {
	return &domain.Loan{
		LoanID:          loanID,
		Amount:          decimal.RequireFromString("1.5"),
		InterestRate:    decimal.RequireFromString("5"),
		DurationMonths:  12,
		Borrower:        borrower,
		CreatedBy:       borrower,
		Status:          domain.StatusRequested,
		LedgerSeq:       1,
		TxHash:          "0xaa",
		StatusUpdatedAt: time.Now().UTC(),
	}
}

func TestCreateAndGetByLoanID(t *testing.T) {
	repo := NewLoanRepository(openTestDB(t))
	ctx := context.Background()

	l := makeLoan(1, alice)
	if err := repo.Create(ctx, l); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if l.ID == 0 {
		t.Fatalf("Create did not set auto-increment ID")
	}

	got, err := repo.GetByLoanID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByLoanID: %v", err)
	}
	if got.Borrower != alice || !got.Amount.Equal(decimal.RequireFromString("1.5")) || got.Status != domain.StatusRequested {
		t.Errorf("unexpected loan: %+v", got)
	}
}

func TestCreate_KeepsFullPrecision(t *testing.T) {
	repo := NewLoanRepository(openTestDB(t))
	ctx := context.Background()

	cases := []struct {
		amount, rate string
	}{
		{"1.000000000000000001", "5.1234"},
		{"999999999999999999.999999999999999999", "99999.9999"},
		{"0.000000000000000001", "0.0001"},
	}
	for i, tc := range cases {
		l := makeLoan(uint64(i+1), alice)
		l.Amount = decimal.RequireFromString(tc.amount)
		l.InterestRate = decimal.RequireFromString(tc.rate)
		if err := repo.Create(ctx, l); err != nil {
			t.Fatalf("Create %s: %v", tc.amount, err)
		}
		got, err := repo.GetByLoanID(ctx, l.LoanID)
		if err != nil {
			t.Fatalf("GetByLoanID: %v", err)
		}
		if !got.SameProjection(l) {
			t.Errorf("stored amount=%s rate=%s, want %s %s", got.Amount, got.InterestRate, tc.amount, tc.rate)
		}
	}
}

func TestGetByLoanID_NotFound(t *testing.T) {
	repo := NewLoanRepository(openTestDB(t))

	_, err := repo.GetByLoanID(context.Background(), 99)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_AppliesNewerState(t *testing.T) {
	repo := NewLoanRepository(openTestDB(t))
	ctx := context.Background()
	if err := repo.Create(ctx, makeLoan(1, alice)); err != nil {
		t.Fatal(err)
	}

	next := makeLoan(1, alice)
	next.Lender = bob
	next.Status = domain.StatusMatched
	next.LedgerSeq = 2
	next.TxHash = "0xbb"
	if err := repo.Update(ctx, next); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.GetByLoanID(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Lender != bob || got.Status != domain.StatusMatched || got.LedgerSeq != 2 || got.TxHash != "0xbb" {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestUpdate_RejectsOlderSeq(t *testing.T) {
	repo := NewLoanRepository(openTestDB(t))
	ctx := context.Background()
	l := makeLoan(1, alice)
	l.Lender, l.Status, l.LedgerSeq = bob, domain.StatusMatched, 3
	if err := repo.Create(ctx, l); err != nil {
		t.Fatal(err)
	}

	stale := makeLoan(1, alice)
	stale.LedgerSeq = 2
	if err := repo.Update(ctx, stale); !errors.Is(err, domain.ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
	got, _ := repo.GetByLoanID(ctx, 1)
	if got.Status != domain.StatusMatched {
		t.Fatalf("stale write leaked: %+v", got)
	}
}

func TestUpdate_MissingRecord(t *testing.T) {
	repo := NewLoanRepository(openTestDB(t))
	if err := repo.Update(context.Background(), makeLoan(5, alice)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete_SoftDeletes(t *testing.T) {
	repo := NewLoanRepository(openTestDB(t))
	ctx := context.Background()
	if err := repo.Create(ctx, makeLoan(1, alice)); err != nil {
		t.Fatal(err)
	}

	if err := repo.Delete(ctx, 1, alice); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByLoanID(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted loan still live: %v", err)
	}
	got, err := repo.Find(ctx, 1)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !got.DeletedAt.Valid || got.DeletedBy != alice {
		t.Fatalf("expected soft-delete marks, got %+v", got)
	}

	// idempotent
	if err := repo.Delete(ctx, 1, alice); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if err := repo.Delete(ctx, 42, alice); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing loan, got %v", err)
	}
}

func TestList_Filters(t *testing.T) {
	repo := NewLoanRepository(openTestDB(t))
	ctx := context.Background()

	seed := []*domain.Loan{
		makeLoan(1, alice), // alice requested
		func() *domain.Loan { // bob offers
			l := makeLoan(2, "")
			l.Lender, l.CreatedBy, l.Status = bob, bob, domain.StatusOffered
			return l
		}(),
		func() *domain.Loan { // alice borrows from bob
			l := makeLoan(3, alice)
			l.Lender, l.Status = bob, domain.StatusFunded
			l.IsFunded = true
			return l
		}(),
		makeLoan(4, carol), // carol requested, deleted below
	}
	for _, l := range seed {
		if err := repo.Create(ctx, l); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.Delete(ctx, 4, carol); err != nil {
		t.Fatal(err)
	}

	ids := func(ls []domain.Loan) []uint64 {
		out := make([]uint64, 0, len(ls))
		for _, l := range ls {
			out = append(out, l.LoanID)
		}
		return out
	}
	cases := []struct {
		name string
		f    domain.Filter
		want []uint64
	}{
		{"all live", domain.Filter{}, []uint64{1, 2, 3}},
		{"include deleted", domain.Filter{IncludeDeleted: true}, []uint64{1, 2, 3, 4}},
		{"one-sided", domain.Filter{Statuses: []domain.Status{domain.StatusRequested, domain.StatusOffered}}, []uint64{1, 2}},
		{"created by alice", domain.Filter{CreatedBy: alice}, []uint64{1, 3}},
		{"bob participates", domain.Filter{Participant: bob}, []uint64{2, 3}},
		{"requests not from alice", domain.Filter{Statuses: []domain.Status{domain.StatusRequested}, NotBorrower: alice, IncludeDeleted: true}, []uint64{4}},
		{"lender unset", domain.Filter{LenderUnset: true}, []uint64{1}},
		{"borrower unset", domain.Filter{BorrowerUnset: true}, []uint64{2}},
		{"not lender bob", domain.Filter{NotLender: bob}, []uint64{1}},
		{"limit", domain.Filter{Limit: 2}, []uint64{1, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := repo.List(ctx, tc.f)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if g := ids(got); len(g) != len(tc.want) {
				t.Fatalf("got %v, want %v", g, tc.want)
			} else {
				for i := range g {
					if g[i] != tc.want[i] {
						t.Fatalf("got %v, want %v", g, tc.want)
					}
				}
			}
			// the in-memory matcher must agree with the query
			for i := range got {
				if !tc.f.Matches(&got[i]) {
					t.Fatalf("Filter.Matches disagrees on loan %d", got[i].LoanID)
				}
			}
		})
	}
}

func TestTx_Rollback(t *testing.T) {
	repo := NewLoanRepository(openTestDB(t))
	ctx := context.Background()
	wantErr := errors.New("boom")

	err := repo.Tx(ctx, func(r *LoanRepository) error {
		if err := r.Create(ctx, makeLoan(7, alice)); err != nil {
			return err
		}
		return wantErr // force rollback
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Tx err = %v", err)
	}

	if _, err := repo.Find(ctx, 7); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after rollback, got %v", err)
	}
}
