package progression

import "github.com/noah-isme/gema-progress-api/internal/models"

// Outcome kinds reported by grading collaborators.
const (
	OutcomeQuiz       = "quiz"
	OutcomeAssignment = "assignment"
)

// ConditionSatisfied reports whether the unit's unlock condition is met by the recorded
// pass flags. Units without a condition complete on any passing outcome.
func ConditionSatisfied(unit models.Unit, row models.UnitProgress) bool {
	switch models.NormalizeUnlockCondition(unit.UnlockCondition) {
	case models.UnlockConditionAssignment:
		return row.AssignmentPassed
	case models.UnlockConditionQuiz:
		return row.QuizPassed
	case models.UnlockConditionBoth:
		return row.AssignmentPassed && row.QuizPassed
	default:
		return row.AssignmentPassed || row.QuizPassed
	}
}
