package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-progress-api/internal/database"
	"github.com/noah-isme/gema-progress-api/internal/models"
)

var (
	// ErrUnitCourseMismatch indicates an upsert targeted a unit owned by another course.
	ErrUnitCourseMismatch = errors.New("unit belongs to another course")
	// ErrUnknownUnit indicates an upsert carried an id that does not exist. New units must
	// leave the id to the database sequence.
	ErrUnknownUnit = errors.New("unit id does not exist")
)

var unitBaseColumns = []string{"id", "course_id", "title", "order_index", "unlock_condition", "is_intro", "is_optional", "created_at", "updated_at"}

// UnitRepository reads the ordered unit catalogue of a course.
type UnitRepository interface {
	ListByCourse(ctx context.Context, courseID uint) ([]models.Unit, error)
	GetByID(ctx context.Context, id uint) (models.Unit, error)
	UpsertBatch(ctx context.Context, courseID uint, units []models.Unit) ([]models.Unit, error)
}

type unitRepository struct {
	db   *gorm.DB
	caps database.Capabilities
}

// NewUnitRepository constructs a catalogue repository honouring the schema capabilities.
func NewUnitRepository(db *gorm.DB, caps database.Capabilities) UnitRepository {
	return &unitRepository{db: db, caps: caps}
}

func (r *unitRepository) columns() []string {
	if !r.caps.UnitDeadlines {
		return unitBaseColumns
	}
	return append(append([]string(nil), unitBaseColumns...), "deadline")
}

func (r *unitRepository) ListByCourse(ctx context.Context, courseID uint) ([]models.Unit, error) {
	var units []models.Unit
	err := r.db.WithContext(ctx).
		Select(r.columns()).
		Where("course_id = ?", courseID).
		Order("order_index ASC, id ASC").
		Find(&units).Error
	if err != nil {
		return nil, translateError(err)
	}
	return units, nil
}

func (r *unitRepository) GetByID(ctx context.Context, id uint) (models.Unit, error) {
	var unit models.Unit
	if err := r.db.WithContext(ctx).Select(r.columns()).First(&unit, id).Error; err != nil {
		return models.Unit{}, translateError(err)
	}
	return unit, nil
}

func (r *unitRepository) UpsertBatch(ctx context.Context, courseID uint, units []models.Unit) ([]models.Unit, error) {
	if len(units) == 0 {
		return []models.Unit{}, nil
	}

	updates := []string{"title", "order_index", "unlock_condition", "is_intro", "is_optional", "updated_at"}
	if r.caps.UnitDeadlines {
		updates = append(updates, "deadline")
	}

	saved := make([]models.Unit, 0, len(units))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, unit := range units {
			unit.CourseID = courseID
			query := tx
			if !r.caps.UnitDeadlines {
				query = query.Omit("deadline")
			}
			if unit.ID != 0 {
				var ownerID uint
				if err := tx.Model(&models.Unit{}).Select("course_id").Where("id = ?", unit.ID).Scan(&ownerID).Error; err != nil {
					return err
				}
				if ownerID == 0 {
					return ErrUnknownUnit
				}
				if ownerID != courseID {
					return ErrUnitCourseMismatch
				}
				query = query.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "id"}},
					DoUpdates: clause.AssignmentColumns(updates),
				})
			}
			if err := query.Create(&unit).Error; err != nil {
				return err
			}
			saved = append(saved, unit)
		}
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}

	return saved, nil
}
