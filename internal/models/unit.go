package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Unlock conditions describe which graded outcome completes a unit.
const (
	UnlockConditionNone       = "none"
	UnlockConditionAssignment = "assignment"
	UnlockConditionQuiz       = "quiz"
	UnlockConditionBoth       = "both"
)

// Unit is an ordered segment of a course and the granularity at which progress is unlocked.
type Unit struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	CourseID        uint       `gorm:"not null;index:idx_units_course_order,priority:1" json:"course_id"`
	Title           string     `gorm:"size:255;not null" json:"title"`
	OrderIndex      int        `gorm:"not null;index:idx_units_course_order,priority:2" json:"order_index"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	UnlockCondition string     `gorm:"size:16;not null;default:none" json:"unlock_condition"`
	IsIntro         bool       `gorm:"not null" json:"is_intro"`
	IsOptional      bool       `gorm:"not null" json:"is_optional"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// BeforeSave normalises the unlock condition tag.
func (u *Unit) BeforeSave(tx *gorm.DB) error {
	u.UnlockCondition = NormalizeUnlockCondition(u.UnlockCondition)
	u.Title = strings.TrimSpace(u.Title)
	return nil
}

// NormalizeUnlockCondition maps free-form tags onto the supported set, defaulting to none.
func NormalizeUnlockCondition(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case UnlockConditionAssignment:
		return UnlockConditionAssignment
	case UnlockConditionQuiz:
		return UnlockConditionQuiz
	case UnlockConditionBoth:
		return UnlockConditionBoth
	default:
		return UnlockConditionNone
	}
}
