package users

import (
	"strings"
	"time"
)

// Role enumerates platform-level account roles.
type Role string

const (
	RoleStudent Role = "student"
	RoleMentor  Role = "mentor"
	RoleAdmin   Role = "admin"
)

// ParseRole validates a raw role string; empty input resolves to student.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoleStudent:
		return RoleStudent, true
	case RoleMentor:
		return RoleMentor, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Profile holds public profile fields.
type Profile struct {
	Bio       string `json:"bio"`
	AvatarURL string `json:"avatarUrl"`
}

// MentorProfile holds fields only meaningful for mentors.
type MentorProfile struct {
	Rating          float64  `json:"rating"`
	Specializations []string `json:"specializations"`
}

// Stats tracks problem-solving progress.
type Stats struct {
	ProblemsSolved int        `json:"problemsSolved"`
	Streak         int        `json:"streak"`
	LastSolvedAt   *time.Time `json:"lastSolvedAt,omitempty"`
}

// User is the persisted account record.
type User struct {
	ID            string        `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Email         string        `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	Username      string        `gorm:"column:username;size:120;not null" json:"username"`
	PasswordHash  string        `gorm:"column:password_hash;size:100;not null" json:"-"`
	Role          Role          `gorm:"column:role;size:16;not null;index" json:"role"`
	Profile       Profile       `gorm:"column:profile;type:text;serializer:json" json:"profile"`
	MentorProfile MentorProfile `gorm:"column:mentor_profile;type:text;serializer:json" json:"mentorProfile"`
	Stats         Stats         `gorm:"column:stats;type:text;serializer:json" json:"stats"`
	Achievements  []string      `gorm:"column:achievements;type:text;serializer:json" json:"achievements"`
	CreatedAt     time.Time     `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}

// nextStreak computes the solve streak after a solve at solvedAt.
func nextStreak(stats Stats, solvedAt time.Time) int {
	if stats.LastSolvedAt == nil || stats.Streak == 0 {
		return 1
	}
	lastDay := truncateDay(*stats.LastSolvedAt)
	today := truncateDay(solvedAt)
	switch {
	case today.Equal(lastDay):
		return stats.Streak
	case today.Equal(lastDay.AddDate(0, 0, 1)):
		return stats.Streak + 1
	default:
		return 1
	}
}

func truncateDay(value time.Time) time.Time {
	utc := value.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
