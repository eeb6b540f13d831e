package progression

import (
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/gema-progress-api/internal/models"
)

// ErrFrontierViolation is returned when unlocked chain units run ahead of completions.
var ErrFrontierViolation = errors.New("unlock frontier violated")

// Promotion marks an existing locked row that bootstrap policy wants unlocked.
type Promotion struct {
	UnitID uint
	Method string
}

// BootstrapPlan lists the writes needed to bring a student's rows in line with the catalogue.
type BootstrapPlan struct {
	Create  []models.UnitProgress
	Promote []Promotion
}

// Empty reports whether the plan requires no writes.
func (p BootstrapPlan) Empty() bool {
	return len(p.Create) == 0 && len(p.Promote) == 0
}

// PlanBootstrap computes the rows missing for a student in a course and the initial unlock
// policy for them. Intro units start unlocked; the first chain unit starts unlocked only
// when the student has no unlocked or completed chain row yet.
func (c Classifier) PlanBootstrap(studentID, courseID uint, units []models.Unit, existing map[uint]models.UnitProgress, now time.Time) BootstrapPlan {
	ordered := SortUnits(units)

	chainStarted := false
	for _, unit := range ordered {
		if !c.IsChain(unit) {
			continue
		}
		if row, ok := existing[unit.ID]; ok && (row.IsUnlocked || row.IsCompleted) {
			chainStarted = true
			break
		}
	}

	var plan BootstrapPlan
	initialGranted := chainStarted
	for _, unit := range ordered {
		method := ""
		switch {
		case c.IsIntro(unit):
			method = models.UnlockMethodIntro
		case c.IsChain(unit) && !initialGranted:
			method = models.UnlockMethodInitial
			initialGranted = true
		}

		row, ok := existing[unit.ID]
		if !ok {
			created := models.UnitProgress{
				StudentID: studentID,
				UnitID:    unit.ID,
				CourseID:  courseID,
			}
			if method != "" {
				unlockedAt := now
				created.IsUnlocked = true
				created.UnlockedAt = &unlockedAt
				created.UnlockMethod = method
			}
			plan.Create = append(plan.Create, created)
			continue
		}

		if method != "" && !row.IsUnlocked {
			plan.Promote = append(plan.Promote, Promotion{UnitID: unit.ID, Method: method})
		}
	}

	return plan
}

// NextEligibleUnit returns the chain unit the frontier advances to once completedUnitID is
// completed. Completing an intro or optional unit never advances the frontier.
func (c Classifier) NextEligibleUnit(units []models.Unit, completedUnitID uint) (uint, bool) {
	ordered := SortUnits(units)

	position := -1
	for idx, unit := range ordered {
		if unit.ID == completedUnitID {
			position = idx
			break
		}
	}
	if position < 0 || !c.IsChain(ordered[position]) {
		return 0, false
	}

	for _, unit := range ordered[position+1:] {
		if c.IsChain(unit) {
			return unit.ID, true
		}
	}
	return 0, false
}

// CheckFrontier verifies that completed rows are unlocked, that every unit unlocked
// automatically follows a completed chain unit, and that no unit unlocked by the sequence
// sits more than one chain step past the last completion.
func (c Classifier) CheckFrontier(units []models.Unit, progress map[uint]models.UnitProgress) error {
	chain := make([]models.Unit, 0, len(units))
	for _, unit := range SortUnits(units) {
		if row, ok := progress[unit.ID]; ok && row.IsCompleted && !row.IsUnlocked {
			return fmt.Errorf("%w: unit %d completed while locked", ErrFrontierViolation, unit.ID)
		}
		if c.IsChain(unit) {
			chain = append(chain, unit)
		}
	}

	lastCompleted := -1
	lastSequenced := -1
	for idx, unit := range chain {
		row := progress[unit.ID]
		if row.IsCompleted {
			lastCompleted = idx
		}
		if !row.IsAutomaticUnlock() {
			continue
		}
		lastSequenced = idx
		if row.UnlockMethod == models.UnlockMethodAutomatic && (idx == 0 || !progress[chain[idx-1].ID].IsCompleted) {
			return fmt.Errorf("%w: unit %d unlocked before its predecessor was completed", ErrFrontierViolation, unit.ID)
		}
	}

	if lastSequenced > lastCompleted+1 {
		return fmt.Errorf("%w: unit %d unlocked ahead of completions", ErrFrontierViolation, chain[lastSequenced].ID)
	}

	return nil
}
