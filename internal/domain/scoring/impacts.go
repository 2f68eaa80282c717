package scoring

import "github.com/okian/gigtrust/internal/domain/model"

// Impacts maps event types to the impact applied when a caller omits one.
type Impacts struct {
	table map[model.EventType]int
}

// DefaultImpacts returns a fresh copy of the built-in impact table.
func DefaultImpacts() map[string]int {
	return map[string]int{
		string(model.EventPaymentOverdue):   -30,
		string(model.EventDisputeLost):      -20,
		string(model.EventDisputeWon):       5,
		string(model.EventNoShow):           -25,
		string(model.EventLateCancellation): -10,
		string(model.EventShiftCompletedOK): 2,
		string(model.EventPositiveReview):   3,
		string(model.EventNegativeReview):   -5,
	}
}

// NewImpacts copies cfg, dropping unknown event types.
func NewImpacts(cfg map[string]int) Impacts {
	table := make(map[model.EventType]int, len(cfg))
	for name, impact := range cfg {
		if et := model.EventType(name); et.Known() {
			table[et] = impact
		}
	}
	return Impacts{table: table}
}

// For returns the configured impact of et and whether one is set.
func (i Impacts) For(et model.EventType) (int, bool) {
	v, ok := i.table[et]
	return v, ok
}
