package progression

import (
	"time"

	"github.com/noah-isme/gema-progress-api/internal/models"
)

// Deadline sources.
const (
	DeadlineSourceOverride = "override"
	DeadlineSourceDefault  = "default"
)

// EffectiveDeadline is the deadline a specific student sees for a unit.
type EffectiveDeadline struct {
	UnitID   uint
	Deadline time.Time
	Source   string
}

// ResolveDeadlines merges a student's overrides with the units' default deadlines. Units
// without either are absent from the result. Overrides for other units are ignored.
func ResolveDeadlines(units []models.Unit, overrides []models.DeadlineOverride) map[uint]EffectiveDeadline {
	byUnit := make(map[uint]models.DeadlineOverride, len(overrides))
	for _, override := range overrides {
		byUnit[override.UnitID] = override
	}

	resolved := make(map[uint]EffectiveDeadline, len(units))
	for _, unit := range units {
		if override, ok := byUnit[unit.ID]; ok {
			resolved[unit.ID] = EffectiveDeadline{UnitID: unit.ID, Deadline: override.Deadline, Source: DeadlineSourceOverride}
			continue
		}
		if unit.Deadline != nil {
			resolved[unit.ID] = EffectiveDeadline{UnitID: unit.ID, Deadline: *unit.Deadline, Source: DeadlineSourceDefault}
		}
	}
	return resolved
}
