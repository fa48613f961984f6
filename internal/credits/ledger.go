package credits

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AnonymousIdentity is the ledger key used when no identity is configured
const AnonymousIdentity = "anonymous"

// DefaultStartingBalance is granted to an identity the first time it is seen
const DefaultStartingBalance = 200

// Transaction is one balance change
type Transaction struct {
	ID           int64
	Identity     string
	Amount       int // negative for debits
	Reason       string
	BalanceAfter int
	CreatedAt    time.Time
}

// Ledger stores balances per identity. Debit must never leave a balance
// negative; it fails with *InsufficientCreditError instead.
type Ledger interface {
	Balance(ctx context.Context, identity string) (int, error)
	Debit(ctx context.Context, identity string, amount int, reason string) (int, error)
	Credit(ctx context.Context, identity string, amount int, reason string) (int, error)
	History(ctx context.Context, identity string, limit int) ([]Transaction, error)
	Close() error
}

// MemoryLedger keeps balances in process memory
type MemoryLedger struct {
	mu              sync.Mutex
	startingBalance int
	balances        map[string]int
	history         []Transaction
}

// NewMemoryLedger creates an in-memory ledger
func NewMemoryLedger(startingBalance int) *MemoryLedger {
	return &MemoryLedger{
		startingBalance: startingBalance,
		balances:        make(map[string]int),
	}
}

// account returns the balance for identity, granting the starting balance on
// first use. Caller holds mu.
func (l *MemoryLedger) account(identity string) int {
	if bal, ok := l.balances[identity]; ok {
		return bal
	}
	l.balances[identity] = l.startingBalance
	l.append(identity, l.startingBalance, "starting balance")
	return l.startingBalance
}

func (l *MemoryLedger) append(identity string, amount int, reason string) {
	l.history = append(l.history, Transaction{
		ID:           int64(len(l.history) + 1),
		Identity:     identity,
		Amount:       amount,
		Reason:       reason,
		BalanceAfter: l.balances[identity],
		CreatedAt:    time.Now(),
	})
}

func (l *MemoryLedger) Balance(_ context.Context, identity string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(identity), nil
}

func (l *MemoryLedger) Debit(_ context.Context, identity string, amount int, reason string) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit amount must be non-negative, got %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.account(identity)
	if bal < amount {
		return bal, &InsufficientCreditError{Required: amount, Balance: bal}
	}
	l.balances[identity] = bal - amount
	l.append(identity, -amount, reason)
	return bal - amount, nil
}

func (l *MemoryLedger) Credit(_ context.Context, identity string, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.account(identity) + amount
	l.balances[identity] = bal
	l.append(identity, amount, reason)
	return bal, nil
}

// History returns the newest transactions first
func (l *MemoryLedger) History(_ context.Context, identity string, limit int) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Transaction
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].Identity != identity {
			continue
		}
		out = append(out, l.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *MemoryLedger) Close() error { return nil }
