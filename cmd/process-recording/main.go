// process-recording drives an existing WAV file through the
// transcription -> summarization -> persistence pipeline without Discord.
// Useful for reprocessing a saved recording or smoke-testing the engines.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/meetscribe/discord-meeting-notes/internal/config"
	"github.com/meetscribe/discord-meeting-notes/internal/pipeline"
	"github.com/meetscribe/discord-meeting-notes/internal/session"
	"github.com/meetscribe/discord-meeting-notes/internal/storage"
	"github.com/meetscribe/discord-meeting-notes/pkg/notes"
	"github.com/meetscribe/discord-meeting-notes/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

var (
	audioPath    string
	guildID      string
	channelID    string
	meetingName  string
	whisperModel string
	useMocks     bool
)

func init() {
	flag.StringVar(&audioPath, "audio", "", "Path to the WAV file to process (required)")
	flag.StringVar(&guildID, "guild", "offline", "Guild ID to record on the meeting")
	flag.StringVar(&channelID, "channel", "offline", "Channel ID to record on the meeting")
	flag.StringVar(&meetingName, "name", "", "Meeting name (defaults to a timestamp label)")
	flag.StringVar(&whisperModel, "whisper-model", "", "Path to Whisper model file")
	flag.BoolVar(&useMocks, "mock", false, "Use mock engines instead of Whisper/Anthropic")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if audioPath == "" {
		logrus.Fatal("-audio is required")
	}
	cfg := config.FromEnv()
	if whisperModel == "" {
		whisperModel = cfg.WhisperModelPath
	}
	if meetingName == "" {
		meetingName = session.DefaultMeetingName(time.Now())
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}()

	var trans transcriber.Transcriber
	var generator notes.Generator
	if useMocks {
		trans = &transcriber.MockTranscriber{}
		generator = &notes.MockGenerator{}
	} else {
		trans, err = transcriber.NewWhisperTranscriber(whisperModel)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize Whisper transcriber")
		}
		generator, err = notes.NewAnthropicGenerator(cfg.AnthropicAPIKey)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize notes generator")
		}
	}
	defer func() {
		if err := trans.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close transcriber")
		}
	}()

	// The pipeline deletes its input once it reaches a terminal outcome, so
	// hand it a copy and keep the original untouched.
	workPath, err := copyToTemp(audioPath, cfg.TempAudioDir)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to stage audio file")
	}

	orchestrator := pipeline.New(trans, generator, store, nil)
	info, err := os.Stat(audioPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to stat audio file")
	}

	result, err := orchestrator.Run(context.Background(), workPath, pipeline.SessionMeta{
		GuildID:   guildID,
		ChannelID: channelID,
		Name:      meetingName,
		StartedAt: info.ModTime(),
		EndedAt:   time.Now(),
	})
	if err != nil {
		logrus.WithError(err).Fatal("Pipeline failed")
	}

	fmt.Printf("Meeting saved with ID %d\n\n", result.MeetingID)
	fmt.Printf("# Meeting Notes: %s\n\n%s\n", result.MeetingName, result.Notes)
}

func copyToTemp(src, tempDir string) (string, error) {
	// #nosec G301 - temp audio directory must be readable by the transcriber
	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return "", err
	}

	in, err := os.Open(src) // #nosec G304 - operator-supplied path
	if err != nil {
		return "", err
	}
	defer func() {
		_ = in.Close()
	}()

	dst := filepath.Join(tempDir, fmt.Sprintf("reprocess_%d.wav", time.Now().UnixNano()))
	out, err := os.Create(dst) // #nosec G304 - path is built from server configuration
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", err
	}
	return dst, out.Close()
}
