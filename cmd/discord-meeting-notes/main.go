package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/meetscribe/discord-meeting-notes/internal/bot"
	"github.com/meetscribe/discord-meeting-notes/internal/config"
	"github.com/meetscribe/discord-meeting-notes/internal/feedback"
	"github.com/meetscribe/discord-meeting-notes/internal/pipeline"
	"github.com/meetscribe/discord-meeting-notes/internal/session"
	"github.com/meetscribe/discord-meeting-notes/internal/storage"
	"github.com/meetscribe/discord-meeting-notes/internal/transport"
	"github.com/meetscribe/discord-meeting-notes/pkg/notes"
	"github.com/meetscribe/discord-meeting-notes/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

var (
	Token        string
	WhisperModel string
)

func init() {
	flag.StringVar(&Token, "token", "", "Discord Bot Token")
	flag.StringVar(&WhisperModel, "whisper-model", "", "Path to Whisper model file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("Error loading .env file, using environment variables")
	}
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg := config.FromEnv()
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if Token == "" {
		Token = cfg.DiscordToken
	}
	if Token == "" {
		logrus.Fatal("Discord token is required. Use -token flag or DISCORD_TOKEN env var")
	}
	if WhisperModel == "" {
		WhisperModel = cfg.WhisperModelPath
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer cancel()

	// Persistence
	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}()

	// Transcription engine
	var trans transcriber.Transcriber
	if WhisperModel != "" {
		trans, err = transcriber.NewWhisperTranscriber(WhisperModel)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize Whisper transcriber")
		}
		logrus.WithField("model", WhisperModel).Info("Using Whisper transcriber")
	} else {
		trans = &transcriber.MockTranscriber{}
		logrus.Warn("No whisper model configured, using mock transcriber")
	}
	defer func() {
		if err := trans.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close transcriber")
		}
	}()

	// Notes engine
	var generator notes.Generator
	if cfg.AnthropicAPIKey != "" {
		generator, err = notes.NewAnthropicGenerator(cfg.AnthropicAPIKey)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to initialize notes generator")
		}
		logrus.Info("Using Anthropic notes generator")
	} else {
		generator = &notes.MockGenerator{}
		logrus.Warn("No Anthropic API key configured, using mock notes generator")
	}

	// Core wiring
	bus := feedback.NewBus(cfg.EventBufferSize)
	defer bus.Close()

	orchestrator := pipeline.New(trans, generator, store, bus)
	registry := session.NewRegistry()

	discord, err := discordgo.New("Bot " + Token)
	if err != nil {
		logrus.WithError(err).Fatal("Error creating Discord session")
	}

	voiceTransport := transport.NewDiscord(discord)
	recorder := session.NewRecorder(registry, voiceTransport, orchestrator, bus, cfg.TempAudioDir, cfg.MaxRecording)
	voiceBot := bot.New(discord, voiceTransport, recorder, store, bus)

	if err := voiceBot.Connect(); err != nil {
		logrus.WithError(err).Fatal("Error connecting to Discord")
	}
	defer func() {
		if err := voiceBot.Disconnect(); err != nil {
			logrus.WithError(err).Warn("Failed to disconnect bot")
		}
	}()
	logrus.Info("Connected to Discord")

	// Daily retention sweep
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := store.DeleteOlderThan(ctx, cfg.RetentionDays); err != nil {
					logrus.WithError(err).Warn("Retention sweep failed")
				}
			}
		}
	}()

	logrus.Info("Bot is running. Press CTRL-C to exit.")
	<-ctx.Done()

	logrus.Info("Shutting down gracefully...")
}
