package rooms

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// RoomRecord is the relational rendition of a Room document; embedded collections are JSON columns.
type RoomRecord struct {
	Code         string        `gorm:"column:code;primaryKey;size:32;not null"`
	OwnerID      string        `gorm:"column:owner_id;size:64;not null;index"`
	Name         string        `gorm:"column:name;size:190;not null;default:''"`
	Language     string        `gorm:"column:language;size:32;not null;default:''"`
	Files        []File        `gorm:"column:files;type:text;serializer:json"`
	Participants []Participant `gorm:"column:participants;type:text;serializer:json"`
	Permissions  Permissions   `gorm:"column:permissions;type:text;serializer:json"`
	Recording    Recording     `gorm:"column:recording;type:text;serializer:json"`
	Whiteboard   string        `gorm:"column:whiteboard;type:text;not null;default:''"`
	Status       string        `gorm:"column:status;size:16;not null;default:'active'"`
	CreatedAt    time.Time     `gorm:"column:created_at"`
	UpdatedAt    time.Time     `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (RoomRecord) TableName() string {
	return "rooms"
}

func recordFromRoom(room Room) RoomRecord {
	return RoomRecord{
		Code:         room.Code.String(),
		OwnerID:      room.OwnerID,
		Name:         room.Name,
		Language:     room.Language,
		Files:        room.Files,
		Participants: room.Participants,
		Permissions:  room.Permissions,
		Recording:    room.Recording,
		Whiteboard:   room.Whiteboard,
		Status:       string(room.Status),
		CreatedAt:    room.CreatedAt,
		UpdatedAt:    room.UpdatedAt,
	}
}

func (record RoomRecord) toRoom() Room {
	files := record.Files
	if files == nil {
		files = []File{}
	}
	participants := record.Participants
	if participants == nil {
		participants = []Participant{}
	}
	return Room{
		Code:         RoomCode(record.Code),
		OwnerID:      record.OwnerID,
		Name:         record.Name,
		Language:     record.Language,
		Files:        files,
		Participants: participants,
		Permissions:  record.Permissions,
		Recording:    record.Recording,
		Whiteboard:   record.Whiteboard,
		Status:       Status(record.Status),
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}

// GormStore keeps room documents in a relational table through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore over an already migrated database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, room Room) error {
	record := recordFromRoom(room)
	var existing int64
	if err := s.db.WithContext(ctx).Model(&RoomRecord{}).Where("code = ?", record.Code).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return ErrRoomExists
	}
	err := s.db.WithContext(ctx).Create(&record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrRoomExists
	}
	return err
}

func (s *GormStore) Get(ctx context.Context, code RoomCode) (Room, error) {
	var record RoomRecord
	err := s.db.WithContext(ctx).Where("code = ?", code.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, err
	}
	return record.toRoom(), nil
}

func (s *GormStore) Save(ctx context.Context, room Room) error {
	record := recordFromRoom(room)
	result := s.db.WithContext(ctx).
		Model(&RoomRecord{}).
		Where("code = ?", record.Code).
		Select("*").
		Updates(&record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *GormStore) ListByOwner(ctx context.Context, ownerID string) ([]Room, error) {
	var records []RoomRecord
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	rooms := make([]Room, 0, len(records))
	for _, record := range records {
		rooms = append(rooms, record.toRoom())
	}
	return rooms, nil
}
