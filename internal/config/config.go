package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultDatabasePath    = "data/meetings.db"
	defaultTempAudioDir    = "temp_audio"
	defaultMaxRecordingSec = 3600
	defaultRetentionDays   = 30
	defaultEventBufferSize = 64
)

// Config holds runtime configuration resolved from environment variables
type Config struct {
	DiscordToken     string
	AnthropicAPIKey  string
	WhisperModelPath string
	DatabasePath     string
	TempAudioDir     string
	MaxRecording     time.Duration
	RetentionDays    int
	EventBufferSize  int
	LogLevel         string
}

// FromEnv builds a Config from environment variables, falling back to
// defaults for anything unset
func FromEnv() Config {
	cfg := Config{
		DiscordToken:     os.Getenv("DISCORD_TOKEN"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		WhisperModelPath: os.Getenv("WHISPER_MODEL_PATH"),
		DatabasePath:     envString("DATABASE_PATH", defaultDatabasePath),
		TempAudioDir:     envString("TEMP_AUDIO_DIR", defaultTempAudioDir),
		MaxRecording:     time.Duration(envInt("MAX_RECORDING_SEC", defaultMaxRecordingSec)) * time.Second,
		RetentionDays:    envInt("MEETING_RETENTION_DAYS", defaultRetentionDays),
		EventBufferSize:  envInt("EVENT_BUFFER_SIZE", defaultEventBufferSize),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	logrus.WithFields(logrus.Fields{
		"database_path":     cfg.DatabasePath,
		"temp_audio_dir":    cfg.TempAudioDir,
		"max_recording_sec": int(cfg.MaxRecording.Seconds()),
		"retention_days":    cfg.RetentionDays,
	}).Debug("Configuration loaded")

	return cfg
}

func envString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
		logrus.WithField("key", key).Warn("Ignoring invalid integer environment value")
	}
	return fallback
}
