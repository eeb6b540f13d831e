package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-progress-api/internal/models"
)

func sampleUnits() []models.Unit {
	return []models.Unit{
		{ID: 13, CourseID: 1, Title: "Unit 3", OrderIndex: 3, IsOptional: true},
		{ID: 11, CourseID: 1, Title: "Unit 1", OrderIndex: 1},
		{ID: 10, CourseID: 1, Title: "Welcome", OrderIndex: 0},
		{ID: 12, CourseID: 1, Title: "Unit 2", OrderIndex: 2},
	}
}

func TestSortUnitsBreaksTiesByID(t *testing.T) {
	units := []models.Unit{
		{ID: 9, OrderIndex: 2},
		{ID: 4, OrderIndex: 2},
		{ID: 7, OrderIndex: 1},
	}

	ordered := SortUnits(units)
	require.Equal(t, []uint{7, 4, 9}, []uint{ordered[0].ID, ordered[1].ID, ordered[2].ID})
	require.Equal(t, uint(9), units[0].ID, "input slice must not be reordered")
}

func TestClassifierIntroDetection(t *testing.T) {
	strict := Classifier{}
	legacy := Classifier{TitleHeuristic: true}

	flagged := models.Unit{ID: 1, OrderIndex: 5, IsIntro: true}
	zeroOrder := models.Unit{ID: 2, OrderIndex: 0}
	titled := models.Unit{ID: 3, OrderIndex: 4, Title: "Introduction to Forensics"}

	require.True(t, strict.IsIntro(flagged))
	require.True(t, strict.IsIntro(zeroOrder))
	require.False(t, strict.IsIntro(titled), "graded units named like an intro stay in the chain")
	require.True(t, legacy.IsIntro(titled))
	require.False(t, strict.IsChain(models.Unit{ID: 4, OrderIndex: 2, IsOptional: true}))
}

func TestPlanBootstrapFreshStudent(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	plan := Classifier{}.PlanBootstrap(7, 1, sampleUnits(), map[uint]models.UnitProgress{}, now)

	require.Len(t, plan.Create, 4)
	require.Empty(t, plan.Promote)

	rows := IndexProgress(plan.Create)
	require.True(t, rows[10].IsUnlocked)
	require.Equal(t, models.UnlockMethodIntro, rows[10].UnlockMethod)
	require.True(t, rows[11].IsUnlocked)
	require.Equal(t, models.UnlockMethodInitial, rows[11].UnlockMethod)
	require.Equal(t, now, *rows[11].UnlockedAt)
	require.False(t, rows[12].IsUnlocked)
	require.False(t, rows[13].IsUnlocked)
	for _, row := range plan.Create {
		require.Equal(t, uint(7), row.StudentID)
		require.Equal(t, uint(1), row.CourseID)
	}
}

func TestPlanBootstrapIsNoopWhenRowsPresent(t *testing.T) {
	classifier := Classifier{}
	now := time.Now()
	first := classifier.PlanBootstrap(7, 1, sampleUnits(), map[uint]models.UnitProgress{}, now)

	second := classifier.PlanBootstrap(7, 1, sampleUnits(), IndexProgress(first.Create), now)
	require.True(t, second.Empty())
}

func TestPlanBootstrapPromotesLateIntroWithoutRegrantingInitial(t *testing.T) {
	units := append(sampleUnits(), models.Unit{ID: 20, CourseID: 1, Title: "Orientation", OrderIndex: 9, IsIntro: true})
	existing := map[uint]models.UnitProgress{
		10: {UnitID: 10, IsUnlocked: true, UnlockMethod: models.UnlockMethodIntro},
		11: {UnitID: 11, IsUnlocked: true, IsCompleted: true, UnlockMethod: models.UnlockMethodInitial},
		12: {UnitID: 12, IsUnlocked: true, UnlockMethod: models.UnlockMethodAutomatic},
		13: {UnitID: 13},
		20: {UnitID: 20},
	}

	plan := Classifier{}.PlanBootstrap(7, 1, units, existing, time.Now())
	require.Empty(t, plan.Create)
	require.Equal(t, []Promotion{{UnitID: 20, Method: models.UnlockMethodIntro}}, plan.Promote)
}

func TestPlanBootstrapNewChainUnitStaysLockedOnceChainStarted(t *testing.T) {
	units := append(sampleUnits(), models.Unit{ID: 30, CourseID: 1, Title: "Unit 0.5", OrderIndex: 1})
	existing := map[uint]models.UnitProgress{
		10: {UnitID: 10, IsUnlocked: true, UnlockMethod: models.UnlockMethodIntro},
		11: {UnitID: 11, IsUnlocked: true, UnlockMethod: models.UnlockMethodInitial},
		12: {UnitID: 12},
		13: {UnitID: 13},
	}

	plan := Classifier{}.PlanBootstrap(7, 1, units, existing, time.Now())
	require.Len(t, plan.Create, 1)
	require.Equal(t, uint(30), plan.Create[0].UnitID)
	require.False(t, plan.Create[0].IsUnlocked)
	require.Empty(t, plan.Promote)
}

func TestNextEligibleUnit(t *testing.T) {
	classifier := Classifier{}
	units := append(sampleUnits(),
		models.Unit{ID: 14, CourseID: 1, Title: "Unit 4", OrderIndex: 4},
		models.Unit{ID: 15, CourseID: 1, Title: "Unit 4b", OrderIndex: 4},
	)

	next, ok := classifier.NextEligibleUnit(units, 11)
	require.True(t, ok)
	require.Equal(t, uint(12), next)

	next, ok = classifier.NextEligibleUnit(units, 12)
	require.True(t, ok)
	require.Equal(t, uint(14), next, "optional unit 13 is skipped")

	next, ok = classifier.NextEligibleUnit(units, 14)
	require.True(t, ok)
	require.Equal(t, uint(15), next, "equal order index resolves by id")

	_, ok = classifier.NextEligibleUnit(units, 15)
	require.False(t, ok, "last unit has no successor")

	_, ok = classifier.NextEligibleUnit(units, 10)
	require.False(t, ok, "intro completion does not advance the frontier")

	_, ok = classifier.NextEligibleUnit(units, 13)
	require.False(t, ok, "optional completion does not advance the frontier")

	_, ok = classifier.NextEligibleUnit(units, 99)
	require.False(t, ok)
}

func TestCheckFrontier(t *testing.T) {
	classifier := Classifier{}
	units := sampleUnits()

	valid := map[uint]models.UnitProgress{
		10: {UnitID: 10, IsUnlocked: true, UnlockMethod: models.UnlockMethodIntro},
		11: {UnitID: 11, IsUnlocked: true, IsCompleted: true, UnlockMethod: models.UnlockMethodInitial},
		12: {UnitID: 12, IsUnlocked: true, UnlockMethod: models.UnlockMethodAutomatic},
	}
	require.NoError(t, classifier.CheckFrontier(units, valid))

	ahead := map[uint]models.UnitProgress{
		10: {UnitID: 10, IsUnlocked: true, UnlockMethod: models.UnlockMethodIntro},
		11: {UnitID: 11, IsUnlocked: true, UnlockMethod: models.UnlockMethodInitial},
		12: {UnitID: 12, IsUnlocked: true, UnlockMethod: models.UnlockMethodAutomatic},
	}
	require.ErrorIs(t, classifier.CheckFrontier(units, ahead), ErrFrontierViolation)

	manual := map[uint]models.UnitProgress{
		11: {UnitID: 11, IsUnlocked: true, UnlockMethod: models.UnlockMethodInitial},
		12: {UnitID: 12, IsUnlocked: true, UnlockMethod: models.UnlockMethodManual},
	}
	require.NoError(t, classifier.CheckFrontier(units, manual), "manual unlocks sit outside the chain invariant")

	lockedCompletion := map[uint]models.UnitProgress{
		11: {UnitID: 11, IsCompleted: true},
	}
	require.ErrorIs(t, classifier.CheckFrontier(units, lockedCompletion), ErrFrontierViolation)
}
