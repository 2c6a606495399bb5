package loan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	domain "p2plend/internal/domain/loan"
	"p2plend/internal/infrastructure/metrics"
)

const (
	defaultReconcileInterval = time.Minute
	defaultMaxAttempts       = 10
)

// Repairer is the part of the coordinator the reconciler drives.
type Repairer interface {
	Reconcile(ctx context.Context, loanID uint64) (*LoanDTO, error)
	Sweep(ctx context.Context) (*SweepReport, error)
}

type ReconcilerConfig struct {
	// Interval between periodic sweeps; zero disables them.
	Interval    time.Duration
	MaxAttempts int
	// NewBackOff builds the retry policy of one loan. Defaults to exponential.
	NewBackOff func() backoff.BackOff
}

type pendingRepair struct {
	attempts int
	due      time.Time
	reason   string
	bo       backoff.BackOff
}

// Reconciler retries record repairs with exponential backoff and sweeps all
// loans periodically. One queued entry exists per loan.
type Reconciler struct {
	target Repairer
	cfg    ReconcilerConfig
	log    *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	pending  map[uint64]*pendingRepair
	sweepDue bool
	wake     chan struct{}
}

var _ Scheduler = (*Reconciler)(nil)

func NewReconciler(target Repairer, cfg ReconcilerConfig, log *slog.Logger) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = defaultBackOff
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		target:  target,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		pending: make(map[uint64]*pendingRepair),
		wake:    make(chan struct{}, 1),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (r *Reconciler) Schedule(loanID uint64, reason string) {
	r.mu.Lock()
	if _, ok := r.pending[loanID]; !ok {
		bo := r.cfg.NewBackOff()
		r.pending[loanID] = &pendingRepair{
			due:    r.now().Add(firstDelay(bo)),
			reason: reason,
			bo:     bo,
		}
		metrics.ReconcileQueueDepth.Set(float64(len(r.pending)))
	}
	r.mu.Unlock()
	r.log.Info("reconcile scheduled", "loan_id", loanID, "reason", reason)
	r.signal()
}

func (r *Reconciler) ScheduleSweep(reason string) {
	r.mu.Lock()
	r.sweepDue = true
	r.mu.Unlock()
	r.log.Info("sweep scheduled", "reason", reason)
	r.signal()
}

// Pending lists the loans waiting for a retry.
func (r *Reconciler) Pending() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.pending))
	for id := range r.pending {
		out = append(out, id)
	}
	return out
}

// Run processes the queue until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		t := time.NewTicker(r.cfg.Interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		timer := time.NewTimer(r.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-tick:
			r.mu.Lock()
			r.sweepDue = true
			r.mu.Unlock()
		case <-r.wake:
		case <-timer.C:
		}
		timer.Stop()
		r.runSweep(ctx)
		r.processDue(ctx)
	}
}

func (r *Reconciler) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// nextWait is the time until the earliest queued retry.
func (r *Reconciler) nextWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	wait := time.Hour
	now := r.now()
	for _, p := range r.pending {
		if d := p.due.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (r *Reconciler) runSweep(ctx context.Context) {
	r.mu.Lock()
	due := r.sweepDue
	r.sweepDue = false
	r.mu.Unlock()
	if !due {
		return
	}
	rep, err := r.target.Sweep(ctx)
	if err != nil {
		metrics.Reconciles.WithLabelValues("sweep", "error").Inc()
		r.log.Error("sweep failed", "err", err)
		return
	}
	metrics.Reconciles.WithLabelValues("sweep", "ok").Inc()
	for _, id := range rep.Failed {
		r.Schedule(id, "sweep failure")
	}
}

// processDue retries every entry whose backoff has elapsed and returns how many
// were attempted.
func (r *Reconciler) processDue(ctx context.Context) int {
	now := r.now()
	r.mu.Lock()
	var due []uint64
	for id, p := range r.pending {
		if !p.due.After(now) {
			due = append(due, id)
		}
	}
	r.mu.Unlock()

	for _, id := range due {
		if ctx.Err() != nil {
			return 0
		}
		_, err := r.target.Reconcile(ctx, id)
		r.settle(id, err)
	}
	return len(due)
}

func (r *Reconciler) settle(loanID uint64, err error) {
	r.mu.Lock()
	defer func() {
		metrics.ReconcileQueueDepth.Set(float64(len(r.pending)))
		r.mu.Unlock()
	}()
	p, ok := r.pending[loanID]
	if !ok {
		return
	}
	if err == nil || errors.Is(err, domain.ErrNotFound) {
		metrics.Reconciles.WithLabelValues("retry", "ok").Inc()
		r.log.Info("reconcile converged", "loan_id", loanID, "attempts", p.attempts+1, "reason", p.reason)
		delete(r.pending, loanID)
		return
	}

	p.attempts++
	next := p.bo.NextBackOff()
	if p.attempts >= r.cfg.MaxAttempts || next == backoff.Stop {
		metrics.Reconciles.WithLabelValues("retry", "gave_up").Inc()
		r.log.Error("reconcile gave up", "loan_id", loanID, "attempts", p.attempts, "reason", p.reason, "err", err)
		delete(r.pending, loanID)
		return
	}
	metrics.Reconciles.WithLabelValues("retry", "error").Inc()
	p.due = r.now().Add(next)
	r.log.Warn("reconcile failed, retrying", "loan_id", loanID, "attempt", p.attempts, "in", next, "err", err)
}

func firstDelay(bo backoff.BackOff) time.Duration {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return 0
	}
	return d
}
