package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lamim/classforge/internal/metrics"
)

// Account binds the gate, the cost schedule and a ledger to one identity.
// Authorize is serialised so a decision and its debit are never interleaved
// with another gated operation.
type Account struct {
	mu       sync.Mutex
	gate     GateConfig
	schedule Schedule
	ledger   Ledger
	identity string
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewAccount creates an account. collector may be nil.
func NewAccount(gate GateConfig, schedule Schedule, ledger Ledger, identity string, collector *metrics.Collector, logger *slog.Logger) *Account {
	if identity == "" {
		identity = AnonymousIdentity
	}
	return &Account{
		gate:     gate,
		schedule: schedule,
		ledger:   ledger,
		identity: identity,
		metrics:  collector,
		logger:   logger.With("component", "credits", "identity", identity),
	}
}

// Enabled reports whether the gate enforces balances
func (a *Account) Enabled() bool { return a.gate.Enabled }

// Identity returns the ledger key
func (a *Account) Identity() string { return a.identity }

// Schedule returns the cost tables
func (a *Account) Schedule() Schedule { return a.schedule }

// Balance returns the current balance
func (a *Account) Balance(ctx context.Context) (int, error) {
	return a.ledger.Balance(ctx, a.identity)
}

// Check previews the decision for op without debiting
func (a *Account) Check(ctx context.Context, op Operation) (Decision, error) {
	if !a.gate.Enabled {
		return Allow(0), nil
	}
	balance, err := a.ledger.Balance(ctx, a.identity)
	if err != nil {
		return Decision{}, err
	}
	d := Admit(a.gate, a.schedule, balance, op)
	d.Balance = balance
	return d, nil
}

// Authorize decides op against the balance current at decision time and
// applies the debit before returning. A denial returns
// *InsufficientCreditError and debits nothing.
func (a *Account) Authorize(ctx context.Context, op Operation) (Decision, error) {
	if !a.gate.Enabled {
		return Allow(0), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	balance, err := a.ledger.Balance(ctx, a.identity)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read balance: %w", err)
	}

	d := Admit(a.gate, a.schedule, balance, op)
	d.Balance = balance
	if !d.Allowed {
		a.metrics.IncrementCreditDenial(string(op.Kind))
		a.logger.Info("Credit gate denied operation", "operation", op, "required", d.Required, "balance", balance)
		return d, &InsufficientCreditError{Operation: op.Kind, Required: d.Required, Balance: balance}
	}

	if d.Debit > 0 {
		after, err := a.ledger.Debit(ctx, a.identity, d.Debit, op.String())
		if err != nil {
			var insufficient *InsufficientCreditError
			if errors.As(err, &insufficient) {
				// Another process spent the balance between read and debit
				insufficient.Operation = op.Kind
				a.metrics.IncrementCreditDenial(string(op.Kind))
				return Deny(insufficient.Required, insufficient.Balance), insufficient
			}
			return Decision{}, err
		}
		d.Balance = after
		a.metrics.AddCreditsDebited(string(op.Kind), d.Debit)
	}

	a.logger.Debug("Credit gate admitted operation", "operation", op, "debit", d.Debit, "balance", d.Balance)
	return d, nil
}

// TopUp adds credit to the account
func (a *Account) TopUp(ctx context.Context, amount int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	balance, err := a.ledger.Credit(ctx, a.identity, amount, "top-up")
	if err != nil {
		return 0, err
	}
	a.logger.Info("Credit topped up", "amount", amount, "balance", balance)
	return balance, nil
}

// History returns recent ledger entries, newest first
func (a *Account) History(ctx context.Context, limit int) ([]Transaction, error) {
	return a.ledger.History(ctx, a.identity, limit)
}
