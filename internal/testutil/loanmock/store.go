package loanmock

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "p2plend/internal/domain/loan"
)

var _ domain.Repository = (*Store)(nil)

// Store is an in-memory record store with the same semantics as the gorm
// repository. FailWrites makes writes fail, to simulate an outage.
type Store struct {
	mu     sync.Mutex
	rows   map[uint64]domain.Loan
	nextID uint64
	// WriteErr, when set, is consulted before every write; a non-nil result
	// is returned and nothing is written. op is create, update or delete.
	WriteErr func(op string, loanID uint64) error
	writes   int
}

func NewStore() *Store {
	return &Store{rows: make(map[uint64]domain.Loan)}
}

// FailWrites makes every write return err until cleared with FailWrites(nil).
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.WriteErr = nil
		return
	}
	s.WriteErr = func(string, uint64) error { return err }
}

// Writes counts successful writes.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Put stores l as is, bypassing every check. Test seeding only.
func (s *Store) Put(l domain.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		s.nextID++
		l.ID = s.nextID
	}
	s.rows[l.LoanID] = l
}

func (s *Store) fail(op string, loanID uint64) error {
	if s.WriteErr != nil {
		return s.WriteErr(op, loanID)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, l *domain.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("create", l.LoanID); err != nil {
		return err
	}
	if _, ok := s.rows[l.LoanID]; ok {
		return domain.ConflictError{LoanID: l.LoanID, Reason: "duplicate record"}
	}
	s.nextID++
	now := time.Now().UTC()
	l.ID, l.CreatedAt, l.UpdatedAt = s.nextID, now, now
	s.rows[l.LoanID] = *l
	s.writes++
	return nil
}

func (s *Store) GetByLoanID(ctx context.Context, loanID uint64) (*domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[loanID]
	if !ok || l.DeletedAt.Valid {
		return nil, domain.NotFoundError{Resource: "loan"}
	}
	return &l, nil
}

func (s *Store) Find(ctx context.Context, loanID uint64) (*domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[loanID]
	if !ok {
		return nil, domain.NotFoundError{Resource: "loan"}
	}
	return &l, nil
}

func (s *Store) Update(ctx context.Context, l *domain.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("update", l.LoanID); err != nil {
		return err
	}
	cur, ok := s.rows[l.LoanID]
	if !ok {
		return domain.NotFoundError{Resource: "loan"}
	}
	if cur.LedgerSeq > l.LedgerSeq {
		return domain.ErrStaleWrite
	}
	next := *l
	next.ID, next.CreatedAt, next.UpdatedAt = cur.ID, cur.CreatedAt, time.Now().UTC()
	next.DeletedAt, next.DeletedBy = cur.DeletedAt, cur.DeletedBy
	s.rows[l.LoanID] = next
	s.writes++
	return nil
}

func (s *Store) Delete(ctx context.Context, loanID uint64, deletedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("delete", loanID); err != nil {
		return err
	}
	cur, ok := s.rows[loanID]
	if !ok {
		return domain.NotFoundError{Resource: "loan"}
	}
	if cur.DeletedAt.Valid {
		return nil
	}
	cur.DeletedAt.Time, cur.DeletedAt.Valid, cur.DeletedBy = time.Now().UTC(), true, deletedBy
	s.rows[loanID] = cur
	s.writes++
	return nil
}

func (s *Store) List(ctx context.Context, f domain.Filter) ([]domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Loan, 0, len(s.rows))
	for _, l := range s.rows {
		if f.Matches(&l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
