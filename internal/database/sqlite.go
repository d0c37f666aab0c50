package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/problems"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/rooms"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/sessions"
	"github.com/MarcoPoloResearchLab/codementor/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table the API owns.
func Models() []any {
	return []any{
		&users.User{},
		&rooms.RoomRecord{},
		&sessions.Session{},
		&problems.Problem{},
		&problems.Submission{},
		&migrationRecord{},
	}
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}

	if err := resetPresence(db); err != nil && logger != nil {
		logger.Warn("participant presence reset failed", zap.Error(err))
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// resetPresence marks every participant offline; no socket survives a restart.
func resetPresence(db *gorm.DB) error {
	var records []rooms.RoomRecord
	if err := db.Where("participants LIKE ?", `%"online":true%`).Find(&records).Error; err != nil {
		return err
	}
	for index := range records {
		for participant := range records[index].Participants {
			records[index].Participants[participant].Online = false
		}
		if err := db.Model(&records[index]).Select("participants").Updates(&records[index]).Error; err != nil {
			return err
		}
	}
	return nil
}
