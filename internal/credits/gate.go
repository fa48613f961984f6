package credits

import (
	"errors"
	"fmt"
)

// ErrInsufficientCredit is matched by every *InsufficientCreditError
var ErrInsufficientCredit = errors.New("insufficient credit")

// InsufficientCreditError reports a gate denial
type InsufficientCreditError struct {
	Operation OperationKind
	Required  int
	Balance   int
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit for %s: requires %d, balance %d", e.Operation, e.Required, e.Balance)
}

func (e *InsufficientCreditError) Is(target error) bool {
	return target == ErrInsufficientCredit
}

// GateConfig controls enforcement
type GateConfig struct {
	Enabled bool
}

// Decision is the outcome of an admission check
type Decision struct {
	Allowed  bool
	Debit    int // amount to debit when allowed
	Required int // amount needed when denied
	Balance  int
}

// Allow admits an operation with the given debit
func Allow(debit int) Decision {
	return Decision{Allowed: true, Debit: debit}
}

// Deny refuses an operation
func Deny(required, balance int) Decision {
	return Decision{Required: required, Balance: balance}
}

// Admit decides whether op may run against balance
func Admit(cfg GateConfig, schedule Schedule, balance int, op Operation) Decision {
	if !cfg.Enabled {
		return Allow(0)
	}
	return AdmitCost(cfg, balance, schedule.Cost(op))
}

// AdmitCost decides whether a known cost may be charged against balance
func AdmitCost(cfg GateConfig, balance, cost int) Decision {
	if !cfg.Enabled {
		return Allow(0)
	}
	if balance >= cost {
		return Allow(cost)
	}
	return Deny(cost, balance)
}
