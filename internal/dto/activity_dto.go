package dto

import (
	"time"

	"github.com/noah-isme/gema-progress-api/internal/models"
)

// PaginationMeta captures pagination metadata for list responses.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
}

// ActivityListRequest defines filters for retrieving activity logs.
type ActivityListRequest struct {
	Page      int
	PageSize  int
	ActorID   uint
	StudentID uint
	CourseID  uint
	Action    string
}

// ActivityResponse serializes activity log entries.
type ActivityResponse struct {
	ID        uint                   `json:"id"`
	ActorID   uint                   `json:"actor_id"`
	ActorRole string                 `json:"actor_role"`
	Action    string                 `json:"action"`
	CourseID  uint                   `json:"course_id"`
	StudentID *uint                  `json:"student_id,omitempty"`
	UnitID    *uint                  `json:"unit_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
}

// ActivityListResponse wraps paginated activity logs.
type ActivityListResponse struct {
	Items      []ActivityResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}

// NewActivityResponse maps an activity log model.
func NewActivityResponse(entry models.ActivityLog) ActivityResponse {
	metadata := map[string]interface{}{}
	for key, value := range entry.Metadata {
		metadata[key] = value
	}
	return ActivityResponse{
		ID:        entry.ID,
		ActorID:   entry.ActorID,
		ActorRole: entry.ActorRole,
		Action:    entry.Action,
		CourseID:  entry.CourseID,
		StudentID: entry.StudentID,
		UnitID:    entry.UnitID,
		Metadata:  metadata,
		CreatedAt: entry.CreatedAt,
	}
}
