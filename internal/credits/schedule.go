package credits

import (
	"fmt"

	"github.com/lamim/classforge/pkg/models"
)

// Tier is a cost bracket derived from the content basis
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// MainRunTier maps a content basis onto the main-run cost tier
func MainRunTier(hasVideo bool, complexity int) Tier {
	if hasVideo {
		if complexity > 1 {
			return TierHigh
		}
		return TierMedium
	}
	if complexity > 2 {
		return TierHigh
	}
	return TierMedium
}

// MaterialTier maps a complexity level onto the per-material cost tier.
// Materials never reach the high tier.
func MaterialTier(complexity int) Tier {
	if complexity > 2 {
		return TierMedium
	}
	return TierLow
}

// OperationKind identifies a chargeable operation
type OperationKind string

const (
	OpGenerate OperationKind = "generate"
	OpEdit     OperationKind = "edit"
	OpRefine   OperationKind = "refine"
)

// Operation describes a gated request
type Operation struct {
	Kind       OperationKind
	HasVideo   bool
	Complexity int
	Materials  models.MaterialRequest
}

// GenerateOp builds the operation for a new run
func GenerateOp(basis models.ContentBasis, materials models.MaterialRequest) Operation {
	return Operation{
		Kind:       OpGenerate,
		HasVideo:   basis.HasVideo(),
		Complexity: basis.Complexity,
		Materials:  materials,
	}
}

// Schedule holds the fixed cost tables
type Schedule struct {
	MainRun  map[Tier]int
	Material map[Tier]int
	Edit     int
}

// DefaultSchedule returns the standard cost tables
func DefaultSchedule() Schedule {
	return Schedule{
		MainRun:  map[Tier]int{TierLow: 15, TierMedium: 40, TierHigh: 75},
		Material: map[Tier]int{TierLow: 10, TierMedium: 25},
		Edit:     25,
	}
}

// WithEditCost returns a copy of the schedule with a different flat edit cost
func (s Schedule) WithEditCost(cost int) Schedule {
	if cost > 0 {
		s.Edit = cost
	}
	return s
}

// LineItem is one component of an operation's cost
type LineItem struct {
	Label  string
	Tier   Tier
	Amount int
}

// Breakdown itemises the cost of an operation
func (s Schedule) Breakdown(op Operation) []LineItem {
	switch op.Kind {
	case OpEdit, OpRefine:
		return []LineItem{{Label: string(op.Kind), Amount: s.Edit}}
	}

	mainTier := MainRunTier(op.HasVideo, op.Complexity)
	items := []LineItem{{Label: "main run", Tier: mainTier, Amount: s.MainRun[mainTier]}}

	matTier := MaterialTier(op.Complexity)
	for _, kind := range op.Materials.Kinds() {
		items = append(items, LineItem{Label: string(kind), Tier: matTier, Amount: s.Material[matTier]})
	}
	return items
}

// Cost returns the total charge for an operation
func (s Schedule) Cost(op Operation) int {
	total := 0
	for _, item := range s.Breakdown(op) {
		total += item.Amount
	}
	return total
}

func (o Operation) String() string {
	if o.Kind != OpGenerate {
		return string(o.Kind)
	}
	return fmt.Sprintf("generate(video=%t, complexity=%d, materials=%d)", o.HasVideo, o.Complexity, len(o.Materials.Kinds()))
}
