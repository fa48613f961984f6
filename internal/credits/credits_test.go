package credits

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lamim/classforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMainRunTier(t *testing.T) {
	tests := []struct {
		hasVideo   bool
		complexity int
		want       Tier
		cost       int
	}{
		{true, 1, TierMedium, 40},
		{true, 2, TierHigh, 75},
		{true, 3, TierHigh, 75},
		{false, 1, TierMedium, 40},
		{false, 2, TierMedium, 40},
		{false, 3, TierHigh, 75},
	}

	schedule := DefaultSchedule()
	for _, tt := range tests {
		got := MainRunTier(tt.hasVideo, tt.complexity)
		if got != tt.want {
			t.Errorf("MainRunTier(%t, %d) = %s, want %s", tt.hasVideo, tt.complexity, got, tt.want)
		}
		if schedule.MainRun[got] != tt.cost {
			t.Errorf("cost(%t, %d) = %d, want %d", tt.hasVideo, tt.complexity, schedule.MainRun[got], tt.cost)
		}
	}
}

func TestMaterialTier(t *testing.T) {
	tests := []struct {
		complexity int
		want       Tier
		cost       int
	}{
		{1, TierLow, 10},
		{2, TierLow, 10},
		{3, TierMedium, 25},
	}

	schedule := DefaultSchedule()
	for _, tt := range tests {
		got := MaterialTier(tt.complexity)
		if got != tt.want || schedule.Material[got] != tt.cost {
			t.Errorf("MaterialTier(%d) = %s/%d, want %s/%d", tt.complexity, got, schedule.Material[got], tt.want, tt.cost)
		}
	}
}

func TestScheduleCost(t *testing.T) {
	schedule := DefaultSchedule()
	all := models.MaterialRequest{LessonPlan: true, Handout: true, Quiz: true}

	tests := []struct {
		name string
		op   Operation
		want int
	}{
		{"topic standard, no materials", Operation{Kind: OpGenerate, Complexity: 2}, 40},
		{"video detailed, all materials", Operation{Kind: OpGenerate, HasVideo: true, Complexity: 3, Materials: all}, 75 + 3*25},
		{"topic simple, quiz only", Operation{Kind: OpGenerate, Complexity: 1, Materials: models.MaterialRequest{Quiz: true}}, 40 + 10},
		{"edit", Operation{Kind: OpEdit, Complexity: 3, Materials: all}, 25},
		{"refine", Operation{Kind: OpRefine}, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := schedule.Cost(tt.op); got != tt.want {
				t.Errorf("Cost() = %d, want %d", got, tt.want)
			}
		})
	}

	if got := schedule.WithEditCost(30).Cost(Operation{Kind: OpEdit}); got != 30 {
		t.Errorf("overridden edit cost = %d, want 30", got)
	}
}

func TestBreakdownOrder(t *testing.T) {
	items := DefaultSchedule().Breakdown(Operation{
		Kind:       OpGenerate,
		Complexity: 2,
		Materials:  models.MaterialRequest{Quiz: true, LessonPlan: true},
	})
	want := []string{"main run", "lesson_plan", "quiz"}
	if len(items) != len(want) {
		t.Fatalf("items = %+v", items)
	}
	for i, label := range want {
		if items[i].Label != label {
			t.Errorf("item[%d] = %s, want %s", i, items[i].Label, label)
		}
	}
}

func TestAdmit(t *testing.T) {
	schedule := DefaultSchedule()
	op := Operation{Kind: OpGenerate, Complexity: 2}

	if d := Admit(GateConfig{Enabled: false}, schedule, 0, op); !d.Allowed || d.Debit != 0 {
		t.Errorf("disabled gate = %+v, want Allow(0)", d)
	}
	if d := Admit(GateConfig{Enabled: true}, schedule, 40, op); !d.Allowed || d.Debit != 40 {
		t.Errorf("exact balance = %+v, want Allow(40)", d)
	}

	d := AdmitCost(GateConfig{Enabled: true}, 10, 15)
	if d.Allowed || d.Required != 15 || d.Balance != 10 {
		t.Errorf("AdmitCost(10, 15) = %+v, want Deny(15, 10)", d)
	}
}

// ledgerFactories exercises every Ledger implementation with the same tests
func ledgerFactories(t *testing.T) map[string]func(start int) Ledger {
	return map[string]func(start int) Ledger{
		"memory": func(start int) Ledger { return NewMemoryLedger(start) },
		"sqlite": func(start int) Ledger {
			l, err := OpenSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"), start)
			if err != nil {
				t.Fatalf("OpenSQLiteLedger() error: %v", err)
			}
			t.Cleanup(func() { _ = l.Close() })
			return l
		},
	}
}

func TestLedger_DebitCreditHistory(t *testing.T) {
	for name, factory := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := factory(DefaultStartingBalance)

			bal, err := l.Balance(ctx, "alice")
			if err != nil || bal != 200 {
				t.Fatalf("Balance() = %d, %v; want 200", bal, err)
			}

			if bal, err = l.Debit(ctx, "alice", 75, "generate"); err != nil || bal != 125 {
				t.Fatalf("Debit() = %d, %v; want 125", bal, err)
			}

			bal, err = l.Debit(ctx, "alice", 200, "generate")
			if !errors.Is(err, ErrInsufficientCredit) {
				t.Fatalf("overdraft err = %v, want ErrInsufficientCredit", err)
			}
			if bal != 125 {
				t.Errorf("balance after denied debit = %d, want 125", bal)
			}

			if bal, err = l.Credit(ctx, "alice", 50, "top-up"); err != nil || bal != 175 {
				t.Fatalf("Credit() = %d, %v; want 175", bal, err)
			}

			if other, _ := l.Balance(ctx, "bob"); other != 200 {
				t.Errorf("independent identity balance = %d, want 200", other)
			}

			history, err := l.History(ctx, "alice", 0)
			if err != nil {
				t.Fatalf("History() error: %v", err)
			}
			if len(history) != 3 {
				t.Fatalf("history = %+v, want 3 entries", history)
			}
			if history[0].Amount != 50 || history[1].Amount != -75 || history[2].Amount != 200 {
				t.Errorf("history amounts = %d,%d,%d", history[0].Amount, history[1].Amount, history[2].Amount)
			}
			if history[0].BalanceAfter != 175 {
				t.Errorf("balance_after = %d, want 175", history[0].BalanceAfter)
			}
		})
	}
}

func TestLedger_RejectsInvalidAmounts(t *testing.T) {
	for name, factory := range ledgerFactories(t) {
		t.Run(name, func(t *testing.T) {
			l := factory(10)
			if _, err := l.Debit(context.Background(), "x", -1, "bad"); err == nil {
				t.Error("negative debit accepted")
			}
			if _, err := l.Credit(context.Background(), "x", 0, "bad"); err == nil {
				t.Error("zero credit accepted")
			}
		})
	}
}

func TestSQLiteLedger_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l, err := OpenSQLiteLedger(path, 200)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := l.Debit(ctx, AnonymousIdentity, 40, "generate"); err != nil {
		t.Fatalf("Debit() error: %v", err)
	}
	_ = l.Close()

	l, err = OpenSQLiteLedger(path, 200)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()

	if bal, _ := l.Balance(ctx, AnonymousIdentity); bal != 160 {
		t.Errorf("balance after reopen = %d, want 160", bal)
	}
}

func TestAccount_AuthorizeDebitsAndDenies(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(50)
	account := NewAccount(GateConfig{Enabled: true}, DefaultSchedule(), ledger, "", nil, testLogger())

	if account.Identity() != AnonymousIdentity {
		t.Errorf("identity = %q, want anonymous", account.Identity())
	}

	d, err := account.Authorize(ctx, Operation{Kind: OpGenerate, Complexity: 2})
	if err != nil || !d.Allowed || d.Debit != 40 || d.Balance != 10 {
		t.Fatalf("Authorize() = %+v, %v", d, err)
	}

	d, err = account.Authorize(ctx, Operation{Kind: OpEdit})
	var insufficient *InsufficientCreditError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want *InsufficientCreditError", err)
	}
	if insufficient.Required != 25 || insufficient.Balance != 10 || insufficient.Operation != OpEdit {
		t.Errorf("denial = %+v", insufficient)
	}
	if d.Allowed {
		t.Error("decision must be a denial")
	}
	if bal, _ := account.Balance(ctx); bal != 10 {
		t.Errorf("balance after denial = %d, want 10", bal)
	}
}

func TestAccount_CheckDoesNotDebit(t *testing.T) {
	ctx := context.Background()
	account := NewAccount(GateConfig{Enabled: true}, DefaultSchedule(), NewMemoryLedger(30), "u", nil, testLogger())

	d, err := account.Check(ctx, Operation{Kind: OpEdit})
	if err != nil || !d.Allowed || d.Debit != 25 {
		t.Fatalf("Check() = %+v, %v", d, err)
	}
	if bal, _ := account.Balance(ctx); bal != 30 {
		t.Errorf("balance after Check = %d, want 30", bal)
	}
}

func TestAccount_DisabledNeverDebits(t *testing.T) {
	ctx := context.Background()
	account := NewAccount(GateConfig{Enabled: false}, DefaultSchedule(), NewMemoryLedger(0), "u", nil, testLogger())

	d, err := account.Authorize(ctx, Operation{Kind: OpGenerate, HasVideo: true, Complexity: 3})
	if err != nil || !d.Allowed || d.Debit != 0 {
		t.Errorf("Authorize() = %+v, %v; want Allow(0)", d, err)
	}
}

func TestAccount_ConcurrentAuthorizeAdmitsOne(t *testing.T) {
	ctx := context.Background()
	account := NewAccount(GateConfig{Enabled: true}, DefaultSchedule(), NewMemoryLedger(40), "u", nil, testLogger())

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := account.Authorize(ctx, Operation{Kind: OpGenerate, Complexity: 2}); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted = %d, want exactly 1", admitted)
	}
	if bal, _ := account.Balance(ctx); bal != 0 {
		t.Errorf("balance = %d, want 0", bal)
	}
}

func TestAccount_TopUp(t *testing.T) {
	ctx := context.Background()
	account := NewAccount(GateConfig{Enabled: true}, DefaultSchedule(), NewMemoryLedger(0), "u", nil, testLogger())

	bal, err := account.TopUp(ctx, 100)
	if err != nil || bal != 100 {
		t.Fatalf("TopUp() = %d, %v", bal, err)
	}
	history, _ := account.History(ctx, 1)
	if len(history) != 1 || history[0].Reason != "top-up" {
		t.Errorf("history = %+v", history)
	}
}
