package database

import (
	"gorm.io/gorm"

	"github.com/noah-isme/gema-progress-api/internal/models"
)

// Capabilities describes which optional schema features a deployment provides. It is
// resolved once at startup and injected wherever the query shape depends on it.
type Capabilities struct {
	Dialect           string `json:"dialect"`
	ProgressTable     bool   `json:"progress_table"`
	UnitDeadlines     bool   `json:"unit_deadlines"`
	DeadlineOverrides bool   `json:"deadline_overrides"`
}

// DetectCapabilities inspects the schema through the gorm migrator.
func DetectCapabilities(db *gorm.DB) Capabilities {
	migrator := db.Migrator()
	hasUnits := migrator.HasTable(&models.Unit{})

	return Capabilities{
		Dialect:           db.Dialector.Name(),
		ProgressTable:     migrator.HasTable(&models.UnitProgress{}),
		UnitDeadlines:     hasUnits && migrator.HasColumn(&models.Unit{}, "Deadline"),
		DeadlineOverrides: migrator.HasTable(&models.DeadlineOverride{}),
	}
}

// FullCapabilities describes a fully migrated schema for the given dialect.
func FullCapabilities(dialect string) Capabilities {
	return Capabilities{
		Dialect:           dialect,
		ProgressTable:     true,
		UnitDeadlines:     true,
		DeadlineOverrides: true,
	}
}

// IsPostgres reports whether the dialect supports session lock timeouts.
func (c Capabilities) IsPostgres() bool {
	return c.Dialect == "postgres"
}

// Flags lists the optional schema features by name.
func (c Capabilities) Flags() map[string]bool {
	return map[string]bool{
		"progress_table":     c.ProgressTable,
		"unit_deadlines":     c.UnitDeadlines,
		"deadline_overrides": c.DeadlineOverrides,
	}
}
