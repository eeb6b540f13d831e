package models

import (
	"time"

	"gorm.io/datatypes"
)

// Progress activity actions written to the audit trail.
const (
	ActivityUnitCompleted   = "unit.completed"
	ActivityUnitUnlocked    = "unit.unlocked"
	ActivityOutcomeRecorded = "outcome.recorded"
	ActivityDeadlineSet     = "deadline.overridden"
	ActivityDeadlineCleared = "deadline.cleared"
	ActivityCatalogueSynced = "catalogue.synced"
)

// ActivityLog captures auditable progression events and the actor behind them.
type ActivityLog struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	ActorID   uint              `gorm:"not null;index" json:"actor_id"`
	ActorRole string            `gorm:"size:32;not null" json:"actor_role"`
	Action    string            `gorm:"size:64;not null;index" json:"action"`
	CourseID  uint              `gorm:"index" json:"course_id"`
	StudentID *uint             `gorm:"index" json:"student_id,omitempty"`
	UnitID    *uint             `json:"unit_id,omitempty"`
	Metadata  datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}
