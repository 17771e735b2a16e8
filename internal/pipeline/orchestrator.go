package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/meetscribe/discord-meeting-notes/internal/feedback"
	"github.com/meetscribe/discord-meeting-notes/internal/storage"
	"github.com/meetscribe/discord-meeting-notes/pkg/notes"
	"github.com/meetscribe/discord-meeting-notes/pkg/transcriber"
	"github.com/sirupsen/logrus"
)

// Stage identifies one step of the processing pipeline
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageSummarization Stage = "summarization"
	StagePersistence   Stage = "persistence"
)

// StageError tags a failure with the pipeline stage that produced it
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// SessionMeta carries the session fields persisted alongside the artifacts
type SessionMeta struct {
	GuildID   string
	ChannelID string
	Name      string
	StartedAt time.Time
	EndedAt   time.Time
}

// Result is the success payload of a pipeline run
type Result struct {
	MeetingID   int64
	MeetingName string
	Transcript  string
	Notes       string
}

// MeetingStore persists finished meetings
type MeetingStore interface {
	SaveMeeting(ctx context.Context, m *storage.Meeting) (int64, error)
}

// Orchestrator drives a finalized recording through transcription,
// summarization and persistence. Stages run strictly in order and are not
// retried; each session's run is independent of every other session.
type Orchestrator struct {
	transcriber transcriber.Transcriber
	generator   notes.Generator
	store       MeetingStore
	bus         *feedback.Bus
}

// New creates a pipeline orchestrator. The bus may be nil.
func New(t transcriber.Transcriber, g notes.Generator, store MeetingStore, bus *feedback.Bus) *Orchestrator {
	return &Orchestrator{
		transcriber: t,
		generator:   g,
		store:       store,
		bus:         bus,
	}
}

// Run processes the audio file at audioPath. The file is deleted exactly
// once, after the run reaches a terminal outcome, regardless of success.
// Partial results from a failed stage are never persisted.
func (o *Orchestrator) Run(ctx context.Context, audioPath string, meta SessionMeta) (*Result, error) {
	log := logrus.WithFields(logrus.Fields{
		"guild_id":   meta.GuildID,
		"audio_path": audioPath,
		"name":       meta.Name,
	})
	log.Info("Pipeline started")

	defer func() {
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warn("Failed to remove temporary audio file")
		}
	}()

	o.publishStage(meta, StageTranscription)
	transcript, err := o.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, o.fail(meta, StageTranscription, err)
	}

	o.publishStage(meta, StageSummarization)
	notesText, err := o.generator.Generate(ctx, transcript)
	if err != nil {
		return nil, o.fail(meta, StageSummarization, err)
	}

	o.publishStage(meta, StagePersistence)
	meetingID, err := o.store.SaveMeeting(ctx, &storage.Meeting{
		GuildID:    meta.GuildID,
		ChannelID:  meta.ChannelID,
		Name:       meta.Name,
		StartTime:  meta.StartedAt,
		EndTime:    meta.EndedAt,
		Transcript: transcript,
		Notes:      notesText,
	})
	if err != nil {
		return nil, o.fail(meta, StagePersistence, err)
	}

	log.WithField("meeting_id", meetingID).Info("Pipeline completed")
	return &Result{
		MeetingID:   meetingID,
		MeetingName: meta.Name,
		Transcript:  transcript,
		Notes:       notesText,
	}, nil
}

func (o *Orchestrator) publishStage(meta SessionMeta, stage Stage) {
	o.bus.Publish(feedback.Event{
		Type:      feedback.EventStageStarted,
		GuildID:   meta.GuildID,
		ChannelID: meta.ChannelID,
		Data:      feedback.StageStartedData{Stage: string(stage)},
	})
}

func (o *Orchestrator) fail(meta SessionMeta, stage Stage, err error) error {
	stageErr := &StageError{Stage: stage, Err: err}
	logrus.WithError(err).WithFields(logrus.Fields{
		"guild_id": meta.GuildID,
		"stage":    stage,
	}).Error("Pipeline stage failed")
	return stageErr
}
