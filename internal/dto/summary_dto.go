package dto

import "time"

// Deadline priority labels shown on dashboards.
const (
	DeadlineOverdue  = "overdue"
	DeadlineDueToday = "due_today"
	DeadlineDueSoon  = "due_soon"
	DeadlineLater    = "later"
)

// UpcomingDeadlineResponse is one incomplete unit with its effective deadline.
type UpcomingDeadlineResponse struct {
	UnitID   uint      `json:"unit_id"`
	Title    string    `json:"title"`
	Deadline time.Time `json:"deadline"`
	Source   string    `json:"source"`
	Priority string    `json:"priority"`
}

// ProgressSummaryResponse is the course roll-up consumed by dashboard widgets.
type ProgressSummaryResponse struct {
	StudentID         uint                       `json:"student_id"`
	CourseID          uint                       `json:"course_id"`
	PercentComplete   int                        `json:"percent_complete"`
	CompletedCount    int                        `json:"completed_count"`
	TotalCount        int                        `json:"total_count"`
	UpcomingDeadlines []UpcomingDeadlineResponse `json:"upcoming_deadlines"`
	GeneratedAt       time.Time                  `json:"generated_at"`
	CacheHit          bool                       `json:"cache_hit"`
}

// EffectiveDeadlineResponse serializes a resolved deadline.
type EffectiveDeadlineResponse struct {
	UnitID   uint      `json:"unit_id"`
	Deadline time.Time `json:"deadline"`
	Source   string    `json:"source"`
}

// DeadlineOverrideRequest sets a per-student deadline.
type DeadlineOverrideRequest struct {
	Deadline time.Time `json:"deadline" validate:"required"`
}

// DeadlineOverrideResponse serializes a stored override.
type DeadlineOverrideResponse struct {
	ID        uint      `json:"id"`
	StudentID uint      `json:"student_id"`
	CourseID  uint      `json:"course_id"`
	UnitID    uint      `json:"unit_id"`
	Deadline  time.Time `json:"deadline"`
	CreatedBy *uint     `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
