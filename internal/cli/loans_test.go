package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"p2plend/internal/app"
	"p2plend/internal/config"
	"p2plend/internal/domain/loan"
	"p2plend/internal/infrastructure/chain"
	"p2plend/internal/logging"
	loanUC "p2plend/internal/usecase/loan"
)

const (
	borrower = "0x1111111111111111111111111111111111111111"
	lender   = "0x2222222222222222222222222222222222222222"
)

// useTestApp points every command at one sqlite file and one in-memory chain.
func useTestApp(t *testing.T) func() *app.App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loans.db")
	ch := chain.New()
	cfg := &config.Config{
		RecordStoreDriver: "sqlite",
		SQLitePath:        path,
		LockBackend:       config.LockBackendMemory,
		LedgerMode:        config.LedgerModeDev,
		ConfirmSecs:       5,
		WriteSecs:         5,
		ReconcileSec:      60,
		ReconcileMax:      3,
		IdentityTTL:       60,
	}
	build := func() (*app.App, error) {
		g, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		return app.New(cfg, logging.Discard(), app.WithDB(g), app.WithMigrate(), app.WithSigner(ch))
	}
	prev := newApp
	newApp = build
	t.Cleanup(func() { newApp = prev })

	return func() *app.App {
		a, err := build()
		if err != nil {
			t.Fatalf("build app: %v", err)
		}
		t.Cleanup(a.Close)
		return a
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Execute(args, &out)
	return out.String(), err
}

func seedRequest(t *testing.T, a *app.App) uint64 {
	t.Helper()
	res, err := a.Coordinator.CreateIntent(context.Background(), loanUC.CreateIntentInput{
		Kind:           loan.KindRequest,
		Creator:        borrower,
		Amount:         decimal.NewFromInt(3),
		InterestRate:   decimal.NewFromInt(10),
		DurationMonths: 12,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return res.Loan.LoanID
}

func TestReconcile_RestoresMissingRecord(t *testing.T) {
	open := useTestApp(t)
	a := open()
	id := seedRequest(t, a)
	if err := a.DB.Exec("DELETE FROM loans").Error; err != nil {
		t.Fatalf("wipe: %v", err)
	}

	out, err := run(t, "reconcile", "1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	var dto loanUC.LoanDTO
	if err := json.Unmarshal([]byte(out), &dto); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if dto.LoanID != id || dto.Status != string(loan.StatusRequested) || dto.Borrower != borrower {
		t.Fatalf("reconciled = %+v", dto)
	}
}

func TestReconcile_BadID(t *testing.T) {
	useTestApp(t)
	if _, err := run(t, "reconcile", "abc"); err == nil || !strings.Contains(err.Error(), "invalid loan id") {
		t.Fatalf("err = %v", err)
	}
}

func TestSweep_Report(t *testing.T) {
	open := useTestApp(t)
	a := open()
	seedRequest(t, a)
	seedRequest(t, a)

	out, err := run(t, "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var rep loanUC.SweepReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if rep.Checked != 2 || len(rep.Failed) != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestView(t *testing.T) {
	open := useTestApp(t)
	seedRequest(t, open())

	out, err := run(t, "view", "open-requests", "--viewer", lender)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !strings.Contains(out, `"counterparty": "`+borrower+`"`) {
		t.Fatalf("open-requests output missing borrower: %s", out)
	}

	out, err = run(t, "view", "completed", "--viewer", lender)
	if err != nil {
		t.Fatalf("view completed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("completed = %q, want []", out)
	}

	if _, err := run(t, "view", "nope", "--viewer", lender); err == nil {
		t.Fatal("expected unknown view error")
	}
}

func TestMigrate(t *testing.T) {
	useTestApp(t)
	out, err := run(t, "migrate")
	if err != nil || !strings.Contains(out, "schema up to date") {
		t.Fatalf("migrate: %q %v", out, err)
	}
}
