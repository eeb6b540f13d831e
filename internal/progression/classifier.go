// Package progression holds the side-effect free rules that decide which course units a
// student may see, which unit the frontier advances to after a completion, and how unit
// level records roll up into course summaries.
package progression

import (
	"regexp"
	"sort"

	"github.com/noah-isme/gema-progress-api/internal/models"
)

var introTitlePattern = regexp.MustCompile(`(?i)\b(intro|introduction|basic information)\b`)

// Classifier decides which units are introductory and which belong to the sequential chain.
type Classifier struct {
	// TitleHeuristic additionally treats units whose title mentions an introduction as
	// introductory. Only meant for legacy catalogues that predate the explicit flag.
	TitleHeuristic bool
}

// IsIntro reports whether the unit is always unlocked regardless of completion order.
func (c Classifier) IsIntro(unit models.Unit) bool {
	if unit.IsIntro || unit.OrderIndex <= 0 {
		return true
	}
	return c.TitleHeuristic && introTitlePattern.MatchString(unit.Title)
}

// IsChain reports whether the unit takes part in the one-step-per-completion unlock chain.
func (c Classifier) IsChain(unit models.Unit) bool {
	return !unit.IsOptional && !c.IsIntro(unit)
}

// SortUnits returns a copy of units in canonical order: order index, then id.
func SortUnits(units []models.Unit) []models.Unit {
	ordered := append([]models.Unit(nil), units...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return unitLess(ordered[i], ordered[j])
	})
	return ordered
}

func unitLess(a, b models.Unit) bool {
	if a.OrderIndex != b.OrderIndex {
		return a.OrderIndex < b.OrderIndex
	}
	return a.ID < b.ID
}

// FindUnit looks a unit up by id.
func FindUnit(units []models.Unit, unitID uint) (models.Unit, bool) {
	for _, unit := range units {
		if unit.ID == unitID {
			return unit, true
		}
	}
	return models.Unit{}, false
}

// IndexProgress keys progress rows by unit id.
func IndexProgress(rows []models.UnitProgress) map[uint]models.UnitProgress {
	indexed := make(map[uint]models.UnitProgress, len(rows))
	for _, row := range rows {
		indexed[row.UnitID] = row
	}
	return indexed
}
