package sessions

import "time"

// Status is the lifecycle state of a mentoring session.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Session is a scheduled meeting between a mentor and a student.
type Session struct {
	ID              string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	MentorID        string    `gorm:"column:mentor_id;size:64;not null;index" json:"mentorId"`
	StudentID       string    `gorm:"column:student_id;size:64;not null;index" json:"studentId"`
	RoomCode        string    `gorm:"column:room_code;size:32" json:"roomCode,omitempty"`
	Topic           string    `gorm:"column:topic;size:200" json:"topic"`
	ScheduledAt     time.Time `gorm:"column:scheduled_at;not null;index" json:"scheduledAt"`
	DurationMinutes int       `gorm:"column:duration_minutes;not null" json:"durationMinutes"`
	Status          Status    `gorm:"column:status;size:16;not null" json:"status"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName exposes the table backing sessions.
func (Session) TableName() string {
	return "mentoring_sessions"
}

// IsParticipant reports whether userID is the mentor or the student.
func (s Session) IsParticipant(userID string) bool {
	return userID != "" && (s.MentorID == userID || s.StudentID == userID)
}

// Counterpart returns the other party of userID.
func (s Session) Counterpart(userID string) string {
	if s.MentorID == userID {
		return s.StudentID
	}
	return s.MentorID
}
