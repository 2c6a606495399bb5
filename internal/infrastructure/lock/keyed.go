package lock

import (
	"context"
	"sync"

	"p2plend/internal/domain/uow"
)

// Keyed is an in-process per-loan mutex. Slots are created on demand and
// dropped once nobody holds or waits for them.
type Keyed struct {
	mu    sync.Mutex
	slots map[uint64]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ uow.UnitOfWork = (*Keyed)(nil)

func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[uint64]*slot)}
}

func (k *Keyed) WithinLoan(ctx context.Context, loanID uint64, fn func(ctx context.Context) error) error {
	s := k.ref(loanID)
	defer k.unref(loanID, s)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.ch }()
	return fn(ctx)
}

func (k *Keyed) ref(loanID uint64) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[loanID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[loanID] = s
	}
	s.refs++
	return s
}

func (k *Keyed) unref(loanID uint64, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, loanID)
	}
}

// Len reports how many loans currently have a live slot.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
