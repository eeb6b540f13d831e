package dto

import (
	"time"

	"github.com/noah-isme/gema-progress-api/internal/models"
)

// UnitProgressResponse serializes one unit together with the caller's progress on it.
type UnitProgressResponse struct {
	UnitID              uint       `json:"unit_id"`
	CourseID            uint       `json:"course_id"`
	Title               string     `json:"title"`
	OrderIndex          int        `json:"order_index"`
	UnlockCondition     string     `json:"unlock_condition"`
	IsIntro             bool       `json:"is_intro"`
	IsOptional          bool       `json:"is_optional"`
	IsUnlocked          bool       `json:"is_unlocked"`
	UnlockedAt          *time.Time `json:"unlocked_at"`
	UnlockMethod        string     `json:"unlock_method,omitempty"`
	IsCompleted         bool       `json:"is_completed"`
	CompletedAt         *time.Time `json:"completed_at"`
	LastQuizScore       *float64   `json:"last_quiz_score"`
	LastAssignmentGrade *float64   `json:"last_assignment_grade"`
	Deadline            *time.Time `json:"deadline,omitempty"`
	DeadlineSource      string     `json:"deadline_source,omitempty"`
}

// CourseProgressResponse is the per-unit progress view for one student in one course.
type CourseProgressResponse struct {
	StudentID   uint                   `json:"student_id"`
	CourseID    uint                   `json:"course_id"`
	Created     bool                   `json:"created"`
	CreatedRows int                    `json:"created_rows"`
	Units       []UnitProgressResponse `json:"units"`
}

// CompletionResponse reports the result of completing a unit.
type CompletionResponse struct {
	StudentID          uint       `json:"student_id"`
	CourseID           uint       `json:"course_id"`
	UnitID             uint       `json:"unit_id"`
	AlreadyCompleted   bool       `json:"already_completed"`
	CompletedAt        *time.Time `json:"completed_at"`
	UnlockedNextUnitID *uint      `json:"unlocked_next_unit_id"`
}

// OutcomeRequest is a graded outcome reported by assignment or quiz collaborators.
type OutcomeRequest struct {
	StudentID uint     `json:"student_id" validate:"required"`
	CourseID  uint     `json:"course_id" validate:"required"`
	UnitID    uint     `json:"unit_id" validate:"required"`
	Kind      string   `json:"kind" validate:"required,oneof=quiz assignment"`
	Score     *float64 `json:"score" validate:"omitempty,gte=0"`
	Passed    bool     `json:"passed"`
}

// OutcomeResponse reports how a recorded outcome affected the unit.
type OutcomeResponse struct {
	UnitID             uint  `json:"unit_id"`
	Recorded           bool  `json:"recorded"`
	Eligible           bool  `json:"eligible"`
	Completed          bool  `json:"completed"`
	AlreadyCompleted   bool  `json:"already_completed"`
	UnlockedNextUnitID *uint `json:"unlocked_next_unit_id"`
}

// ManualUnlockRequest captures an administrative unlock.
type ManualUnlockRequest struct {
	Method string `json:"method" validate:"omitempty,oneof=manual free"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// AdminStudentProgressResponse extends the progress view with a frontier audit.
type AdminStudentProgressResponse struct {
	CourseProgressResponse
	FrontierValid bool   `json:"frontier_valid"`
	FrontierError string `json:"frontier_error,omitempty"`
}

// NewUnitProgressResponse merges a unit with its progress row.
func NewUnitProgressResponse(unit models.Unit, row models.UnitProgress) UnitProgressResponse {
	return UnitProgressResponse{
		UnitID:              unit.ID,
		CourseID:            unit.CourseID,
		Title:               unit.Title,
		OrderIndex:          unit.OrderIndex,
		UnlockCondition:     models.NormalizeUnlockCondition(unit.UnlockCondition),
		IsIntro:             unit.IsIntro,
		IsOptional:          unit.IsOptional,
		IsUnlocked:          row.IsUnlocked,
		UnlockedAt:          row.UnlockedAt,
		UnlockMethod:        row.UnlockMethod,
		IsCompleted:         row.IsCompleted,
		CompletedAt:         row.CompletedAt,
		LastQuizScore:       row.LastQuizScore,
		LastAssignmentGrade: row.LastAssignmentGrade,
	}
}
