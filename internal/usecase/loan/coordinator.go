package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "p2plend/internal/domain/loan"
	"p2plend/internal/domain/party"
	"p2plend/internal/domain/uow"
	"p2plend/internal/infrastructure/metrics"
	"p2plend/pkg/id"
)

var tracer = otel.Tracer("loan")

const (
	defaultWriteTimeout = 10 * time.Second

	// deletedByReconciler marks records removed because the ledger has no such loan.
	deletedByReconciler = "reconciler"
)

// Scheduler queues record repairs. Implemented by Reconciler.
type Scheduler interface {
	Schedule(loanID uint64, reason string)
	// ScheduleSweep asks for a pass over every loan, used when the loan id of
	// a pending creation is not known yet.
	ScheduleSweep(reason string)
}

type noopScheduler struct{}

func (noopScheduler) Schedule(uint64, string) {}
func (noopScheduler) ScheduleSweep(string)    {}

// Coordinator drives every loan transition through the ledger and projects
// the confirmed ledger state into the record store.
type Coordinator struct {
	ledger       domain.Ledger
	repo         domain.Repository
	uow          uow.UnitOfWork
	sched        Scheduler
	log          *slog.Logger
	now          func() time.Time
	writeTimeout time.Duration
}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithWriteTimeout bounds the record write that follows a confirmation.
func WithWriteTimeout(d time.Duration) Option { return func(c *Coordinator) { c.writeTimeout = d } }

func NewCoordinator(l domain.Ledger, r domain.Repository, u uow.UnitOfWork, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:       l,
		repo:         r,
		uow:          u,
		sched:        noopScheduler{},
		log:          slog.Default(),
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetScheduler wires the reconcile queue. The reconciler itself depends on the
// coordinator, hence a setter.
func (c *Coordinator) SetScheduler(s Scheduler) {
	if s == nil {
		s = noopScheduler{}
	}
	c.sched = s
}

// ─── Intents ────────────────────────────────────────────────────────────────

func (c *Coordinator) CreateIntent(ctx context.Context, in CreateIntentInput) (res *Result, err error) {
	ctx, span, done := c.begin(ctx, "CreateIntent", 0)
	defer func() { done(err) }()

	creator, err := validateIntent(&in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("loan.kind", string(in.Kind)), attribute.String("loan.creator", creator))

	var rcpt *domain.Receipt
	if in.Kind == domain.KindOffer {
		rcpt, err = c.ledger.CreateOffer(ctx, creator, in.Amount, in.InterestRate, in.DurationMonths)
	} else {
		rcpt, err = c.ledger.CreateRequest(ctx, creator, in.Amount, in.InterestRate, in.DurationMonths)
	}
	if err != nil {
		if errors.Is(err, domain.ErrPending) {
			// the loan id is only known once the transaction is mined
			c.sched.ScheduleSweep("pending create " + pendingHash(err))
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int64("loan.id", int64(rcpt.State.LoanID)))

	// the loan exists on the ledger now; do not let the caller abandon its record
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()
	err = c.uow.WithinLoan(lctx, rcpt.State.LoanID, func(ctx context.Context) error {
		l, perr := c.project(ctx, "CreateIntent", rcpt)
		if perr != nil {
			return perr
		}
		res = &Result{Loan: ToDTO(l), TxHash: rcpt.TxHash}
		return nil
	})
	if err != nil {
		return nil, c.lockFailure(err, "CreateIntent", rcpt)
	}
	return res, nil
}

func (c *Coordinator) AcceptMatch(ctx context.Context, loanID uint64, counterparty string) (*Result, error) {
	return c.transition(ctx, transition{
		op:     "AcceptMatch",
		field:  "counterparty",
		loanID: loanID,
		caller: counterparty,
		check: func(st *domain.LedgerState, rec *domain.Loan, caller string) error {
			switch {
			case st.Status == domain.StatusCancelled || st.Deleted:
				return domain.ConflictError{LoanID: loanID, Reason: "loan cancelled"}
			case !oneSided(st):
				return domain.ConflictError{LoanID: loanID, Reason: domain.ErrAlreadyMatched.Reason}
			case caller == st.Borrower || caller == st.Lender:
				return domain.ValidationError{Field: "counterparty", Reason: "cannot match own loan"}
			}
			return nil
		},
		submit: func(ctx context.Context, st *domain.LedgerState, caller string) (*domain.Receipt, error) {
			return c.ledger.AcceptMatch(ctx, caller, loanID)
		},
	})
}

func (c *Coordinator) FundLoan(ctx context.Context, loanID uint64, payer string) (*Result, error) {
	return c.transition(ctx, transition{
		op:     "FundLoan",
		field:  "payer",
		loanID: loanID,
		caller: payer,
		check: func(st *domain.LedgerState, rec *domain.Loan, caller string) error {
			if err := requireStatus(st, domain.StatusMatched); err != nil {
				return err
			}
			if caller != st.Lender {
				return domain.ValidationError{Field: "payer", Reason: "is not the lender"}
			}
			if rec != nil && rec.Lender != "" && rec.Lender != st.Lender {
				return drift(loanID, "lender")
			}
			return nil
		},
		submit: func(ctx context.Context, st *domain.LedgerState, caller string) (*domain.Receipt, error) {
			return c.ledger.FundLoan(ctx, caller, loanID, st.Amount)
		},
	})
}

func (c *Coordinator) RepayLoan(ctx context.Context, loanID uint64, payer string) (*Result, error) {
	return c.transition(ctx, transition{
		op:     "RepayLoan",
		field:  "payer",
		loanID: loanID,
		caller: payer,
		check: func(st *domain.LedgerState, rec *domain.Loan, caller string) error {
			if err := requireStatus(st, domain.StatusFunded); err != nil {
				return err
			}
			if caller != st.Borrower {
				return domain.ValidationError{Field: "payer", Reason: "is not the borrower"}
			}
			if rec != nil && rec.Borrower != "" && rec.Borrower != st.Borrower {
				return drift(loanID, "borrower")
			}
			return nil
		},
		submit: func(ctx context.Context, st *domain.LedgerState, caller string) (*domain.Receipt, error) {
			return c.ledger.RepayLoan(ctx, caller, loanID, domain.RepaymentDue(st.Amount, st.InterestRate))
		},
	})
}

func (c *Coordinator) Cancel(ctx context.Context, loanID uint64, caller string) (*Result, error) {
	return c.transition(ctx, transition{
		op:     "Cancel",
		field:  "caller",
		loanID: loanID,
		caller: caller,
		check: func(st *domain.LedgerState, rec *domain.Loan, caller string) error {
			if st.Deleted || st.Status == domain.StatusCancelled {
				return domain.ConflictError{LoanID: loanID, Reason: "loan already cancelled"}
			}
			if !oneSided(st) || (st.Borrower != "" && st.Lender != "") {
				return domain.ConflictError{LoanID: loanID, Reason: fmt.Sprintf("loan is %s and can no longer be cancelled", st.Status)}
			}
			if caller != st.CreatedBy {
				return domain.ValidationError{Field: "caller", Reason: "is not the creator"}
			}
			return nil
		},
		submit: func(ctx context.Context, st *domain.LedgerState, caller string) (*domain.Receipt, error) {
			return c.ledger.CancelLoan(ctx, caller, loanID)
		},
	})
}

// ─── Reads and repair ───────────────────────────────────────────────────────

// Get returns the projected record, cancelled ones included.
func (c *Coordinator) Get(ctx context.Context, loanID uint64) (*LoanDTO, error) {
	l, err := c.repo.Find(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return ToDTO(l), nil
}

// Reconcile re-derives the record of loanID from a fresh ledger read. Running
// it again without an intervening ledger change leaves the record untouched.
func (c *Coordinator) Reconcile(ctx context.Context, loanID uint64) (dto *LoanDTO, err error) {
	ctx, _, done := c.begin(ctx, "Reconcile", loanID)
	defer func() { done(err) }()

	err = c.uow.WithinLoan(ctx, loanID, func(ctx context.Context) error {
		l, _, rerr := c.reconcileLocked(ctx, loanID)
		if rerr != nil {
			return rerr
		}
		dto = ToDTO(l)
		return nil
	})
	return dto, err
}

// Sweep reconciles every loan known to the ledger or to the record store.
// A failing loan does not stop the pass; it is reported in Failed.
func (c *Coordinator) Sweep(ctx context.Context) (rep *SweepReport, err error) {
	ctx, _, done := c.begin(ctx, "Sweep", 0)
	defer func() { done(err) }()

	ids, err := c.knownLoanIDs(ctx)
	if err != nil {
		return nil, err
	}
	rep = &SweepReport{}
	for _, loanID := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Checked++
		var changed bool
		lerr := c.uow.WithinLoan(ctx, loanID, func(ctx context.Context) error {
			var rerr error
			_, changed, rerr = c.reconcileLocked(ctx, loanID)
			return rerr
		})
		switch {
		case lerr == nil:
			if changed {
				rep.Repaired++
			}
		case errors.Is(lerr, domain.ErrNotFound):
			// ledger and store both forgot it
		default:
			c.log.Warn("sweep: reconcile failed", "loan_id", loanID, "err", lerr)
			rep.Failed = append(rep.Failed, loanID)
		}
	}
	c.log.Info("sweep done", "checked", rep.Checked, "repaired", rep.Repaired, "failed", len(rep.Failed))
	return rep, nil
}

func (c *Coordinator) knownLoanIDs(ctx context.Context) ([]uint64, error) {
	ledgerIDs, err := c.ledger.LoanIDs(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := c.repo.List(ctx, domain.Filter{IncludeDeleted: true})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list records")
	}
	seen := make(map[uint64]bool, len(ledgerIDs)+len(recs))
	out := make([]uint64, 0, len(ledgerIDs)+len(recs))
	for _, i := range ledgerIDs {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	for i := range recs {
		if lid := recs[i].LoanID; !seen[lid] {
			seen[lid] = true
			out = append(out, lid)
		}
	}
	return out, nil
}

// reconcileLocked runs under the loan lock.
func (c *Coordinator) reconcileLocked(ctx context.Context, loanID uint64) (*domain.Loan, bool, error) {
	st, err := c.ledger.GetLoan(ctx, loanID)
	if errors.Is(err, domain.ErrNotFound) {
		return c.dropOrphan(ctx, loanID)
	}
	if err != nil {
		return nil, false, err
	}
	return c.apply(ctx, st)
}

// dropOrphan soft-deletes a live record the ledger does not know.
func (c *Coordinator) dropOrphan(ctx context.Context, loanID uint64) (*domain.Loan, bool, error) {
	rec, err := c.repo.Find(ctx, loanID)
	if err != nil {
		return nil, false, err
	}
	if rec.DeletedAt.Valid {
		return rec, false, nil
	}
	c.log.Warn("record has no ledger loan, deleting", "loan_id", loanID)
	if err := c.repo.Delete(ctx, loanID, deletedByReconciler); err != nil {
		return nil, false, err
	}
	rec, err = c.repo.Find(ctx, loanID)
	return rec, true, err
}

// ─── Transition plumbing ────────────────────────────────────────────────────

type transition struct {
	op     string
	field  string
	loanID uint64
	caller string
	// check validates the intent against fresh ledger state and the current
	// record (nil when there is none).
	check  func(st *domain.LedgerState, rec *domain.Loan, caller string) error
	submit func(ctx context.Context, st *domain.LedgerState, caller string) (*domain.Receipt, error)
}

func (c *Coordinator) transition(ctx context.Context, t transition) (res *Result, err error) {
	ctx, span, done := c.begin(ctx, t.op, t.loanID)
	defer func() { done(err) }()

	caller, err := party.NormalizeAddress(t.caller)
	if err != nil {
		return nil, domain.ValidationError{Field: t.field, Reason: "is not a valid wallet address"}
	}
	if t.loanID == 0 {
		return nil, domain.ValidationError{Field: "loan_id", Reason: "must be positive"}
	}
	span.SetAttributes(attribute.String("loan.caller", caller))

	var rcpt *domain.Receipt
	err = c.uow.WithinLoan(ctx, t.loanID, func(ctx context.Context) error {
		st, err := c.ledger.GetLoan(ctx, t.loanID)
		if err != nil {
			return err
		}
		rec, err := c.repo.Find(ctx, t.loanID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return pkgerrors.Wrap(err, "read record")
		}
		if err := t.check(st, rec, caller); err != nil {
			return err
		}

		rcpt, err = t.submit(ctx, st, caller)
		if err != nil {
			if errors.Is(err, domain.ErrPending) {
				c.sched.Schedule(t.loanID, "pending "+t.op)
			}
			return err
		}

		l, err := c.project(ctx, t.op, rcpt)
		if err != nil {
			return err
		}
		res = &Result{Loan: ToDTO(l), TxHash: rcpt.TxHash}
		return nil
	})
	if err != nil {
		return nil, c.lockFailure(err, t.op, rcpt)
	}
	return res, nil
}

// project writes the record for a confirmed receipt. The write is detached from
// the caller's cancellation: the ledger effect already happened.
func (c *Coordinator) project(ctx context.Context, op string, rcpt *domain.Receipt) (*domain.Loan, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()

	l, _, err := c.apply(wctx, &rcpt.State)
	if err != nil {
		return nil, c.persistenceFailure(op, rcpt, err)
	}
	return l, nil
}

// lockFailure handles an error surfacing from WithinLoan. Once a receipt
// exists, every failure is about the record half.
func (c *Coordinator) lockFailure(err error, op string, rcpt *domain.Receipt) error {
	if rcpt == nil || errors.Is(err, domain.ErrPersistence) {
		return err
	}
	return c.persistenceFailure(op, rcpt, err)
}

func (c *Coordinator) persistenceFailure(op string, rcpt *domain.Receipt, err error) error {
	st := rcpt.State
	metrics.ProjectionFailures.WithLabelValues(op).Inc()
	c.log.Error("ledger confirmed but record write failed",
		"op", op, "loan_id", st.LoanID, "tx", rcpt.TxHash, "seq", st.Seq, "status", st.Status, "err", err)
	c.sched.Schedule(st.LoanID, "projection "+op)
	return domain.PersistenceError{Op: op, LoanID: st.LoanID, TxHash: rcpt.TxHash, Confirmed: &st, Err: err}
}

// apply converges the record of st.LoanID to st. It reports whether the store
// was written.
func (c *Coordinator) apply(ctx context.Context, st *domain.LedgerState) (*domain.Loan, bool, error) {
	next := domain.FromLedger(st, c.now())

	cur, err := c.repo.Find(ctx, st.LoanID)
	if errors.Is(err, domain.ErrNotFound) {
		if err := next.CheckInvariants(); err != nil {
			return nil, false, err
		}
		if err := c.repo.Create(ctx, next); err != nil {
			return nil, false, pkgerrors.Wrap(err, "create record")
		}
		if st.Deleted {
			if err := c.repo.Delete(ctx, st.LoanID, st.CreatedBy); err != nil {
				return nil, true, pkgerrors.Wrap(err, "delete record")
			}
			next.DeletedAt.Time, next.DeletedAt.Valid, next.DeletedBy = c.now().UTC(), true, st.CreatedBy
		}
		return next, true, nil
	}
	if err != nil {
		return nil, false, pkgerrors.Wrap(err, "read record")
	}

	if cur.LedgerSeq > next.LedgerSeq {
		// a newer confirmation was projected already
		return cur, false, nil
	}
	changed := false
	if !cur.SameProjection(next) {
		if err := cur.CheckSuccessor(next); err != nil {
			return nil, false, err
		}
		if err := next.CheckInvariants(); err != nil {
			return nil, false, err
		}
		next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
		next.DeletedAt, next.DeletedBy = cur.DeletedAt, cur.DeletedBy
		if cur.Status == next.Status {
			next.StatusUpdatedAt = cur.StatusUpdatedAt
		}
		if err := c.repo.Update(ctx, next); err != nil {
			if errors.Is(err, domain.ErrStaleWrite) {
				fresh, ferr := c.repo.Find(ctx, st.LoanID)
				return fresh, false, ferr
			}
			return nil, false, pkgerrors.Wrap(err, "update record")
		}
		cur, changed = next, true
	}
	if st.Deleted && !cur.DeletedAt.Valid {
		if err := c.repo.Delete(ctx, st.LoanID, st.CreatedBy); err != nil {
			return nil, changed, pkgerrors.Wrap(err, "delete record")
		}
		cur.DeletedAt.Time, cur.DeletedAt.Valid, cur.DeletedBy = c.now().UTC(), true, st.CreatedBy
		changed = true
	}
	return cur, changed, nil
}

// begin opens the span, logs and counts the outcome of one operation.
func (c *Coordinator) begin(ctx context.Context, op string, loanID uint64) (context.Context, trace.Span, func(error)) {
	intent := id.NewID32()
	ctx, span := tracer.Start(ctx, "Loan.Coordinator."+op)
	span.SetAttributes(attribute.String("intent.id", intent))
	if loanID != 0 {
		span.SetAttributes(attribute.Int64("loan.id", int64(loanID)))
	}
	start := time.Now()
	return ctx, span, func(err error) {
		kind := resultKind(err)
		metrics.Transitions.WithLabelValues(op, kind).Inc()
		attrs := []any{"op", op, "intent", intent, "loan_id", loanID, "result", kind, "took", time.Since(start)}
		switch kind {
		case "ok":
			c.log.Info("loan operation", attrs...)
		case "internal", "persistence":
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.log.Error("loan operation", append(attrs, "err", err)...)
		default:
			span.RecordError(err)
			c.log.Warn("loan operation", append(attrs, "err", err)...)
		}
		span.End()
	}
}

// ─── helpers ────────────────────────────────────────────────────────────────

func validateIntent(in *CreateIntentInput) (string, error) {
	if in.Kind != domain.KindOffer && in.Kind != domain.KindRequest {
		return "", domain.ValidationError{Field: "kind", Reason: "must be offer or request"}
	}
	if !in.Amount.IsPositive() {
		return "", domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if !domain.HasScale(in.Amount, domain.LedgerScale) {
		return "", domain.ValidationError{Field: "amount", Reason: fmt.Sprintf("has more than %d decimal places", domain.LedgerScale)}
	}
	if in.Amount.GreaterThanOrEqual(domain.MaxAmount) {
		return "", domain.ValidationError{Field: "amount", Reason: "must be below " + domain.MaxAmount.String()}
	}
	if !in.InterestRate.IsPositive() {
		return "", domain.ValidationError{Field: "interest_rate", Reason: "must be positive"}
	}
	if !domain.HasScale(in.InterestRate, domain.RateScale) {
		return "", domain.ValidationError{Field: "interest_rate", Reason: fmt.Sprintf("has more than %d decimal places", domain.RateScale)}
	}
	if in.InterestRate.GreaterThanOrEqual(domain.MaxRate) {
		return "", domain.ValidationError{Field: "interest_rate", Reason: "must be below " + domain.MaxRate.String()}
	}
	if in.DurationMonths == 0 {
		return "", domain.ValidationError{Field: "duration_months", Reason: "must be positive"}
	}
	creator, err := party.NormalizeAddress(in.Creator)
	if err != nil {
		return "", domain.ValidationError{Field: "creator", Reason: "is not a valid wallet address"}
	}
	return creator, nil
}

func oneSided(st *domain.LedgerState) bool {
	return st.Status == domain.StatusRequested || st.Status == domain.StatusOffered
}

func requireStatus(st *domain.LedgerState, want domain.Status) error {
	if st.Deleted || st.Status != want {
		return domain.ConflictError{LoanID: st.LoanID, Reason: fmt.Sprintf("loan is %s, want %s", st.Status, want)}
	}
	return nil
}

func drift(loanID uint64, side string) error {
	return domain.ConflictError{LoanID: loanID, Reason: "record " + side + " differs from ledger " + side}
}

func pendingHash(err error) string {
	var p domain.PendingError
	if errors.As(err, &p) {
		return p.TxHash
	}
	return ""
}

func resultKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	case errors.Is(err, domain.ErrPending):
		return "pending"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrLedgerRejected):
		return "rejected"
	case errors.Is(err, domain.ErrWallet):
		return "wallet"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}
