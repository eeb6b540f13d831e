package models

import "time"

// Unlock methods recorded on a progress row.
const (
	UnlockMethodIntro     = "intro"
	UnlockMethodInitial   = "initial"
	UnlockMethodAutomatic = "automatic"
	UnlockMethodManual    = "manual"
	UnlockMethodFree      = "free"
)

// UnitProgress is the per-(student, unit) unlock and completion record.
type UnitProgress struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	StudentID           uint       `gorm:"not null;uniqueIndex:idx_unit_progress_student_unit,priority:1;index:idx_unit_progress_student_course,priority:1" json:"student_id"`
	UnitID              uint       `gorm:"not null;uniqueIndex:idx_unit_progress_student_unit,priority:2" json:"unit_id"`
	CourseID            uint       `gorm:"not null;index:idx_unit_progress_student_course,priority:2" json:"course_id"`
	Unit                *Unit      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	IsUnlocked          bool       `gorm:"not null" json:"is_unlocked"`
	UnlockedAt          *time.Time `json:"unlocked_at,omitempty"`
	UnlockMethod        string     `gorm:"size:16" json:"unlock_method,omitempty"`
	UnlockedBy          *uint      `json:"unlocked_by,omitempty"`
	UnlockReason        *string    `gorm:"type:text" json:"unlock_reason,omitempty"`
	IsCompleted         bool       `gorm:"not null" json:"is_completed"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	LastQuizScore       *float64   `json:"last_quiz_score,omitempty"`
	LastAssignmentGrade *float64   `json:"last_assignment_grade,omitempty"`
	QuizPassed          bool       `gorm:"not null" json:"quiz_passed"`
	AssignmentPassed    bool       `gorm:"not null" json:"assignment_passed"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName pins the progress table name.
func (UnitProgress) TableName() string {
	return "unit_progress"
}

// IsAutomaticUnlock reports whether the row was unlocked by the sequential chain.
func (p UnitProgress) IsAutomaticUnlock() bool {
	return p.IsUnlocked && (p.UnlockMethod == UnlockMethodInitial || p.UnlockMethod == UnlockMethodAutomatic)
}

// DeadlineOverride replaces a unit's default deadline for a single student.
type DeadlineOverride struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StudentID uint      `gorm:"not null;uniqueIndex:idx_deadline_override_key,priority:1" json:"student_id"`
	CourseID  uint      `gorm:"not null;uniqueIndex:idx_deadline_override_key,priority:2" json:"course_id"`
	UnitID    uint      `gorm:"not null;uniqueIndex:idx_deadline_override_key,priority:3" json:"unit_id"`
	Unit      *Unit     `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Deadline  time.Time `gorm:"not null" json:"deadline"`
	CreatedBy *uint     `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
