package service

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-progress-api/internal/repository"
)

var (
	// ErrStorageNotProvisioned indicates the progress schema was never migrated. It is a
	// deployment defect and must not be retried.
	ErrStorageNotProvisioned = errors.New("progress storage not provisioned")
	// ErrNotEligible is the parent of every business-rule rejection.
	ErrNotEligible = errors.New("not eligible")
	// ErrUnitLocked indicates the unit is not reachable yet.
	ErrUnitLocked = fmt.Errorf("%w: unit is locked", ErrNotEligible)
	// ErrUnitNotInCourse indicates the unit belongs to a different course.
	ErrUnitNotInCourse = fmt.Errorf("%w: unit does not belong to course", ErrNotEligible)
	// ErrUnitNotFound indicates the unit does not exist at all.
	ErrUnitNotFound = errors.New("unit not found")
	// ErrProgressNotInitialized indicates completion was requested before bootstrap.
	ErrProgressNotInitialized = errors.New("progress not initialized for unit")
	// ErrContention indicates row locks could not be acquired in time; safe to retry.
	ErrContention = errors.New("progress update contended, retry later")
	// ErrFreeUnlockRequiresOptional rejects a free release of a chain unit.
	ErrFreeUnlockRequiresOptional = fmt.Errorf("%w: free unlock is only allowed for optional units", ErrNotEligible)
	// ErrFeatureUnavailable indicates an optional schema feature is absent in this deployment.
	ErrFeatureUnavailable = errors.New("feature not provisioned in this deployment")
	// ErrDeadlineOverrideNotFound indicates there was no override to remove.
	ErrDeadlineOverrideNotFound = errors.New("deadline override not found")
)

// ErrorKind classifies service failures for transport mapping and retry policy.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindDeployment
	KindNotEligible
	KindNotFound
	KindConsistency
	KindContention
	KindValidation
)

// String names the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDeployment:
		return "storage_not_provisioned"
	case KindNotEligible:
		return "not_eligible"
	case KindNotFound:
		return "not_found"
	case KindConsistency:
		return "progress_not_initialized"
	case KindContention:
		return "contention"
	case KindValidation:
		return "validation_failed"
	default:
		return "internal"
	}
}

// Retryable reports whether the caller may retry the whole operation.
func (k ErrorKind) Retryable() bool {
	return k == KindContention
}

// Classify maps an error returned by a progression service onto its kind.
func Classify(err error) ErrorKind {
	var validationErrors validator.ValidationErrors
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrStorageNotProvisioned), errors.Is(err, ErrFeatureUnavailable):
		return KindDeployment
	case errors.Is(err, ErrContention):
		return KindContention
	case errors.Is(err, ErrNotEligible):
		return KindNotEligible
	case errors.Is(err, ErrUnitNotFound), errors.Is(err, ErrDeadlineOverrideNotFound):
		return KindNotFound
	case errors.Is(err, ErrProgressNotInitialized):
		return KindConsistency
	case errors.As(err, &validationErrors):
		return KindValidation
	default:
		return KindInternal
	}
}

// translateRepoError lifts repository sentinels into service errors.
func translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrSchemaMissing):
		return fmt.Errorf("%w: %v", ErrStorageNotProvisioned, err)
	case errors.Is(err, repository.ErrLockContention):
		return fmt.Errorf("%w: %v", ErrContention, err)
	case errors.Is(err, repository.ErrOverridesUnavailable):
		return fmt.Errorf("%w: %v", ErrFeatureUnavailable, err)
	case errors.Is(err, repository.ErrUnitCourseMismatch):
		return fmt.Errorf("%w: %v", ErrUnitNotInCourse, err)
	case errors.Is(err, repository.ErrUnknownUnit):
		return fmt.Errorf("%w: %v", ErrUnitNotFound, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrUnitNotFound
	default:
		return err
	}
}
