package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrMeetingNotFound is returned when a meeting ID has no record
var ErrMeetingNotFound = errors.New("meeting not found")

// Meeting is a persisted record of one finished recording session
type Meeting struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	GuildID    string    `gorm:"size:32;not null;index:idx_meetings_guild_start,priority:1"`
	ChannelID  string    `gorm:"size:32;not null"`
	Name       string    `gorm:"size:255;not null"`
	StartTime  time.Time `gorm:"not null;index:idx_meetings_guild_start,priority:2"`
	EndTime    time.Time `gorm:"not null"`
	Transcript string    `gorm:"type:text"`
	Notes      string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName sets the SQLite table name
func (Meeting) TableName() string {
	return "meetings"
}

// Store persists meetings in a SQLite database. Writes are append-only from
// the pipeline's perspective; gorm serializes access to the single file.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the database at path and migrates the
// meetings table
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		// #nosec G301 - data directory must be readable for backups
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("error creating data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.AutoMigrate(&Meeting{}); err != nil {
		return nil, fmt.Errorf("error migrating schema: %w", err)
	}

	logrus.WithField("path", path).Info("Database initialized")
	return &Store{db: db}, nil
}

// SaveMeeting inserts a finished meeting and returns its ID
func (s *Store) SaveMeeting(ctx context.Context, m *Meeting) (int64, error) {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return 0, fmt.Errorf("error saving meeting: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"meeting_id": m.ID,
		"guild_id":   m.GuildID,
		"name":       m.Name,
	}).Info("Saved meeting")
	return m.ID, nil
}

// GetMeeting retrieves a meeting by ID, ErrMeetingNotFound if absent
func (s *Store) GetMeeting(ctx context.Context, id int64) (*Meeting, error) {
	var m Meeting
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMeetingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error loading meeting %d: %w", id, err)
	}
	return &m, nil
}

// ListRecent returns up to limit meetings for a guild, newest start time first
func (s *Store) ListRecent(ctx context.Context, guildID string, limit int) ([]Meeting, error) {
	var meetings []Meeting
	err := s.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("start_time DESC").
		Limit(limit).
		Find(&meetings).Error
	if err != nil {
		return nil, fmt.Errorf("error listing meetings: %w", err)
	}
	return meetings, nil
}

// DeleteOlderThan removes meetings created more than the given number of
// days ago and returns how many were deleted
func (s *Store) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Meeting{})
	if res.Error != nil {
		return 0, fmt.Errorf("error deleting old meetings: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		logrus.WithFields(logrus.Fields{
			"deleted": res.RowsAffected,
			"days":    days,
		}).Info("Deleted old meetings")
	}
	return res.RowsAffected, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
