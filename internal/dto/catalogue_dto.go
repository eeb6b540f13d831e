package dto

import (
	"time"

	"github.com/noah-isme/gema-progress-api/internal/models"
)

// UnitPayload describes one unit in a catalogue sync.
type UnitPayload struct {
	ID              uint       `json:"id"`
	Title           string     `json:"title" validate:"required,max=255"`
	OrderIndex      int        `json:"order_index"`
	Deadline        *time.Time `json:"deadline"`
	UnlockCondition string     `json:"unlock_condition" validate:"omitempty,oneof=none assignment quiz both"`
	IsIntro         bool       `json:"is_intro"`
	IsOptional      bool       `json:"is_optional"`
}

// UnitSyncRequest upserts a course's units.
type UnitSyncRequest struct {
	Units []UnitPayload `json:"units" validate:"required,min=1,dive"`
}

// UnitResponse serializes a catalogue unit.
type UnitResponse struct {
	ID              uint       `json:"id"`
	CourseID        uint       `json:"course_id"`
	Title           string     `json:"title"`
	OrderIndex      int        `json:"order_index"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	UnlockCondition string     `json:"unlock_condition"`
	IsIntro         bool       `json:"is_intro"`
	IsOptional      bool       `json:"is_optional"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewUnitResponse maps a unit model.
func NewUnitResponse(unit models.Unit) UnitResponse {
	return UnitResponse{
		ID:              unit.ID,
		CourseID:        unit.CourseID,
		Title:           unit.Title,
		OrderIndex:      unit.OrderIndex,
		Deadline:        unit.Deadline,
		UnlockCondition: models.NormalizeUnlockCondition(unit.UnlockCondition),
		IsIntro:         unit.IsIntro,
		IsOptional:      unit.IsOptional,
		UpdatedAt:       unit.UpdatedAt,
	}
}
