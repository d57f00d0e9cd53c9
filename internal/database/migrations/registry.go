package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/castarr/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: preferences table
//   - 002: renderers table
func AllMigrations() []Migration {
	return []Migration{
		migration001Preferences(),
		migration002Renderers(),
	}
}

func migration001Preferences() Migration {
	return Migration{
		Version:     "001",
		Description: "Create preferences table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Preference{})
		},
		Down: func(tx *gorm.DB) error {
			return dropIfExists(tx, "preferences")
		},
	}
}

func migration002Renderers() Migration {
	return Migration{
		Version:     "002",
		Description: "Create renderers table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Renderer{})
		},
		Down: func(tx *gorm.DB) error {
			return dropIfExists(tx, "renderers")
		},
	}
}

func dropIfExists(tx *gorm.DB, table string) error {
	if !tx.Migrator().HasTable(table) {
		return nil
	}
	return tx.Migrator().DropTable(table)
}
