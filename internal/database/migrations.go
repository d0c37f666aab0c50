package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/rooms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillRoomStatus    = "2024-03-01_backfill_room_status"
	migrationBackfillSessionLength = "2024-03-08_backfill_session_duration"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillRoomStatus, apply: backfillRoomStatus},
		{name: migrationBackfillSessionLength, apply: backfillSessionDuration},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func backfillRoomStatus(db *gorm.DB) error {
	return db.Model(&rooms.RoomRecord{}).
		Where("status = '' OR status IS NULL").
		Update("status", string(rooms.StatusActive)).Error
}

func backfillSessionDuration(db *gorm.DB) error {
	return db.Exec("UPDATE mentoring_sessions SET duration_minutes = 60 WHERE duration_minutes <= 0").Error
}
