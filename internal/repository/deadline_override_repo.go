package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-progress-api/internal/database"
	"github.com/noah-isme/gema-progress-api/internal/models"
)

// ErrOverridesUnavailable indicates the deployment has no deadline override table.
var ErrOverridesUnavailable = errors.New("deadline overrides not provisioned")

// DeadlineOverrideRepository reads and maintains per-student deadline overrides.
type DeadlineOverrideRepository interface {
	ListForStudentCourse(ctx context.Context, studentID, courseID uint) ([]models.DeadlineOverride, error)
	Upsert(ctx context.Context, override *models.DeadlineOverride) error
	Delete(ctx context.Context, studentID, courseID, unitID uint) (bool, error)
}

type deadlineOverrideRepository struct {
	db   *gorm.DB
	caps database.Capabilities
}

// NewDeadlineOverrideRepository constructs the override repository.
func NewDeadlineOverrideRepository(db *gorm.DB, caps database.Capabilities) DeadlineOverrideRepository {
	return &deadlineOverrideRepository{db: db, caps: caps}
}

// ListForStudentCourse returns no rows when overrides are not provisioned.
func (r *deadlineOverrideRepository) ListForStudentCourse(ctx context.Context, studentID, courseID uint) ([]models.DeadlineOverride, error) {
	if !r.caps.DeadlineOverrides {
		return []models.DeadlineOverride{}, nil
	}

	var overrides []models.DeadlineOverride
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		Order("unit_id ASC").
		Find(&overrides).Error
	if err != nil {
		return nil, translateError(err)
	}
	return overrides, nil
}

func (r *deadlineOverrideRepository) Upsert(ctx context.Context, override *models.DeadlineOverride) error {
	if !r.caps.DeadlineOverrides {
		return ErrOverridesUnavailable
	}

	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "course_id"}, {Name: "unit_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"deadline", "created_by", "updated_at"}),
		}).
		Create(override).Error
	if err != nil {
		return translateError(err)
	}

	var stored models.DeadlineOverride
	err = r.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ? AND unit_id = ?", override.StudentID, override.CourseID, override.UnitID).
		Take(&stored).Error
	if err != nil {
		return translateError(err)
	}
	*override = stored
	return nil
}

func (r *deadlineOverrideRepository) Delete(ctx context.Context, studentID, courseID, unitID uint) (bool, error) {
	if !r.caps.DeadlineOverrides {
		return false, ErrOverridesUnavailable
	}

	result := r.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ? AND unit_id = ?", studentID, courseID, unitID).
		Delete(&models.DeadlineOverride{})
	if result.Error != nil {
		return false, translateError(result.Error)
	}
	return result.RowsAffected > 0, nil
}
