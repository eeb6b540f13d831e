package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-progress-api/internal/database"
	"github.com/noah-isme/gema-progress-api/internal/models"
)

// UnlockUpdate describes an unlock applied to an existing progress row. Metadata already
// present on the row is never overwritten.
type UnlockUpdate struct {
	Method string
	At     time.Time
	By     *uint
	Reason *string
}

// OutcomeUpdate carries a graded outcome recorded against a progress row.
type OutcomeUpdate struct {
	QuizScore        *float64
	AssignmentGrade  *float64
	QuizPassed       *bool
	AssignmentPassed *bool
}

// UnitProgressRepository persists per-(student, unit) progress rows. Every method accepts
// an optional transaction; nil runs against the base connection.
type UnitProgressRepository interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	ListByStudentCourse(ctx context.Context, tx *gorm.DB, studentID, courseID uint) ([]models.UnitProgress, error)
	CreateMissing(ctx context.Context, tx *gorm.DB, rows []models.UnitProgress) (int64, error)
	Unlock(ctx context.Context, tx *gorm.DB, studentID, unitID uint, update UnlockUpdate) (bool, error)
	LockForUpdate(ctx context.Context, tx *gorm.DB, studentID, unitID uint) (models.UnitProgress, error)
	MarkCompleted(ctx context.Context, tx *gorm.DB, id uint, at time.Time) error
	RecordOutcome(ctx context.Context, tx *gorm.DB, id uint, update OutcomeUpdate) error
}

type unitProgressRepository struct {
	db          *gorm.DB
	caps        database.Capabilities
	lockTimeout time.Duration
}

// NewUnitProgressRepository constructs the progress store.
func NewUnitProgressRepository(db *gorm.DB, caps database.Capabilities, lockTimeout time.Duration) UnitProgressRepository {
	return &unitProgressRepository{db: db, caps: caps, lockTimeout: lockTimeout}
}

func (r *unitProgressRepository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx)
}

func (r *unitProgressRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.caps.IsPostgres() && r.lockTimeout > 0 {
			statement := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
			if err := tx.Exec(statement).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
	return translateError(err)
}

func (r *unitProgressRepository) ListByStudentCourse(ctx context.Context, tx *gorm.DB, studentID, courseID uint) ([]models.UnitProgress, error) {
	var rows []models.UnitProgress
	err := r.conn(ctx, tx).
		Where("student_id = ? AND course_id = ?", studentID, courseID).
		Order("unit_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	return rows, nil
}

func (r *unitProgressRepository) CreateMissing(ctx context.Context, tx *gorm.DB, rows []models.UnitProgress) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	result := r.conn(ctx, tx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "unit_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if result.Error != nil {
		return 0, translateError(result.Error)
	}
	return result.RowsAffected, nil
}

func (r *unitProgressRepository) Unlock(ctx context.Context, tx *gorm.DB, studentID, unitID uint, update UnlockUpdate) (bool, error) {
	result := r.conn(ctx, tx).
		Model(&models.UnitProgress{}).
		Where("student_id = ? AND unit_id = ? AND is_unlocked = ?", studentID, unitID, false).
		Updates(map[string]interface{}{
			"is_unlocked":   true,
			"unlocked_at":   gorm.Expr("COALESCE(unlocked_at, ?)", update.At),
			"unlock_method": gorm.Expr("COALESCE(NULLIF(unlock_method, ''), ?)", update.Method),
			"unlocked_by":   gorm.Expr("COALESCE(unlocked_by, ?)", update.By),
			"unlock_reason": gorm.Expr("COALESCE(unlock_reason, ?)", update.Reason),
		})
	if result.Error != nil {
		return false, translateError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *unitProgressRepository) LockForUpdate(ctx context.Context, tx *gorm.DB, studentID, unitID uint) (models.UnitProgress, error) {
	var row models.UnitProgress
	err := r.conn(ctx, tx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("student_id = ? AND unit_id = ?", studentID, unitID).
		Take(&row).Error
	if err != nil {
		return models.UnitProgress{}, translateError(err)
	}
	return row, nil
}

func (r *unitProgressRepository) MarkCompleted(ctx context.Context, tx *gorm.DB, id uint, at time.Time) error {
	err := r.conn(ctx, tx).
		Model(&models.UnitProgress{}).
		Where("id = ? AND is_completed = ?", id, false).
		Updates(map[string]interface{}{
			"is_completed": true,
			"completed_at": at,
		}).Error
	return translateError(err)
}

func (r *unitProgressRepository) RecordOutcome(ctx context.Context, tx *gorm.DB, id uint, update OutcomeUpdate) error {
	updates := map[string]interface{}{}
	if update.QuizScore != nil {
		updates["last_quiz_score"] = *update.QuizScore
	}
	if update.AssignmentGrade != nil {
		updates["last_assignment_grade"] = *update.AssignmentGrade
	}
	if update.QuizPassed != nil {
		updates["quiz_passed"] = *update.QuizPassed
	}
	if update.AssignmentPassed != nil {
		updates["assignment_passed"] = *update.AssignmentPassed
	}
	if len(updates) == 0 {
		return nil
	}

	err := r.conn(ctx, tx).Model(&models.UnitProgress{}).Where("id = ?", id).Updates(updates).Error
	return translateError(err)
}
