package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meetscribe/discord-meeting-notes/internal/feedback"
	"github.com/meetscribe/discord-meeting-notes/internal/pipeline"
	"github.com/meetscribe/discord-meeting-notes/internal/transport"
	"github.com/sirupsen/logrus"
)

// PipelineRunner processes a finalized recording into a persisted meeting
type PipelineRunner interface {
	Run(ctx context.Context, audioPath string, meta pipeline.SessionMeta) (*pipeline.Result, error)
}

// Recorder is the caller-facing surface of the session manager. It wires
// the registry, the voice transport, the auto-stop timer and the pipeline
// together; sessions for different guilds are fully independent.
type Recorder struct {
	registry    *Registry
	transport   transport.VoiceTransport
	pipeline    PipelineRunner
	bus         *feedback.Bus
	tempDir     string
	maxDuration time.Duration
}

// NewRecorder creates a recorder. The bus may be nil.
func NewRecorder(reg *Registry, tr transport.VoiceTransport, pl PipelineRunner, bus *feedback.Bus, tempDir string, maxDuration time.Duration) *Recorder {
	return &Recorder{
		registry:    reg,
		transport:   tr,
		pipeline:    pl,
		bus:         bus,
		tempDir:     tempDir,
		maxDuration: maxDuration,
	}
}

// DefaultMeetingName derives the fallback meeting name from a timestamp
func DefaultMeetingName(t time.Time) string {
	return "Meeting-" + t.Format("20060102-150405")
}

// RequestStart begins a recording session for a guild. Fails with
// ErrAlreadyRecording if the guild already has a live session.
func (r *Recorder) RequestStart(ctx context.Context, guildID, channelID, name string) (string, error) {
	if name == "" {
		name = DefaultMeetingName(time.Now())
	}

	sess, err := r.registry.Create(guildID, channelID, name)
	if err != nil {
		return "", err
	}

	onFrame := func(speakerID string, pcm []byte) {
		sess.Ingest(speakerID, pcm)
	}
	if err := r.transport.StartListening(guildID, onFrame); err != nil {
		r.registry.Remove(guildID)
		return "", fmt.Errorf("error starting voice capture: %w", err)
	}

	sess.ArmTimer(r.maxDuration, func() {
		r.autoStop(sess)
	})

	r.bus.Publish(feedback.Event{
		Type:      feedback.EventSessionStarted,
		GuildID:   guildID,
		ChannelID: channelID,
	})

	logrus.WithFields(logrus.Fields{
		"session_id":   sess.ID,
		"guild_id":     guildID,
		"channel_id":   channelID,
		"name":         name,
		"max_duration": r.maxDuration,
	}).Info("Started recording")
	return sess.ID, nil
}

// Recording reports whether the guild currently has a live session
func (r *Recorder) Recording(guildID string) bool {
	_, ok := r.registry.Lookup(guildID)
	return ok
}

// RequestStop ends the guild's recording session and runs the pipeline,
// returning the persisted meeting and notes. A stop with no live session,
// or a second stop racing the first, yields ErrNoActiveSession.
func (r *Recorder) RequestStop(ctx context.Context, guildID string) (*pipeline.Result, error) {
	sess, ok := r.registry.Lookup(guildID)
	if !ok {
		return nil, ErrNoActiveSession
	}
	return r.stop(ctx, sess, false)
}

// NotifyDisrupted tears down the guild's session after a transport
// disruption. Collected frames are discarded and the pipeline never runs;
// the registry slot is always released.
func (r *Recorder) NotifyDisrupted(guildID string) error {
	sess, ok := r.registry.Lookup(guildID)
	if !ok {
		return ErrNoActiveSession
	}

	sess.Cancel()
	r.transport.StopListening(guildID)
	r.registry.Remove(guildID)

	r.bus.Publish(feedback.Event{
		Type:      feedback.EventSessionCancelled,
		GuildID:   guildID,
		ChannelID: sess.ChannelID,
	})

	logrus.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"guild_id":   guildID,
	}).Warn("Recording cancelled by transport disruption")
	return nil
}

// stop drives a session through Stopping into its terminal state and runs
// the pipeline on the finalized file. beginStop is the serialization point:
// whichever of manual stop and auto-stop gets there first wins, the other
// sees ErrNoActiveSession.
func (r *Recorder) stop(ctx context.Context, sess *Session, autoStopped bool) (*pipeline.Result, error) {
	if err := sess.beginStop(); err != nil {
		return nil, err
	}

	r.transport.StopListening(sess.GuildID)
	defer r.registry.Remove(sess.GuildID)

	path := r.recordingPath(sess.GuildID)
	if err := sess.finalize(path); err != nil {
		r.bus.Publish(feedback.Event{
			Type:      feedback.EventSessionCancelled,
			GuildID:   sess.GuildID,
			ChannelID: sess.ChannelID,
		})
		logrus.WithError(err).WithField("guild_id", sess.GuildID).Warn("Recording produced no audio")
		return nil, err
	}

	if sess.Cancelled() {
		// Disrupted while stopping: the file must not reach the pipeline
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).Warn("Failed to remove cancelled recording")
		}
		return nil, ErrSessionCancelled
	}

	meta := pipeline.SessionMeta{
		GuildID:   sess.GuildID,
		ChannelID: sess.ChannelID,
		Name:      sess.Name,
		StartedAt: sess.StartedAt,
		EndedAt:   time.Now(),
	}

	result, err := r.pipeline.Run(ctx, path, meta)
	if autoStopped {
		r.publishPipelineOutcome(sess, result, err)
	}
	return result, err
}

// autoStop is the timer callback: a clean, policy-driven stop. The pipeline
// still runs and results are announced over the bus since no caller waits.
func (r *Recorder) autoStop(sess *Session) {
	logrus.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"guild_id":   sess.GuildID,
		"duration":   r.maxDuration,
	}).Info("Auto-stopping recording after max duration")

	if _, err := r.stop(context.Background(), sess, true); err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			// Lost the race against a manual stop
			logrus.WithField("guild_id", sess.GuildID).Debug("Auto-stop superseded by manual stop")
			return
		}
		logrus.WithError(err).WithField("guild_id", sess.GuildID).Error("Auto-stop processing failed")
	}
}

func (r *Recorder) publishPipelineOutcome(sess *Session, result *pipeline.Result, err error) {
	if err != nil {
		stage := "unknown"
		var se *pipeline.StageError
		if errors.As(err, &se) {
			stage = string(se.Stage)
		}
		r.bus.Publish(feedback.Event{
			Type:      feedback.EventPipelineFailed,
			GuildID:   sess.GuildID,
			ChannelID: sess.ChannelID,
			Data:      feedback.PipelineFailedData{Stage: stage, Err: err},
		})
		return
	}

	r.bus.Publish(feedback.Event{
		Type:      feedback.EventPipelineCompleted,
		GuildID:   sess.GuildID,
		ChannelID: sess.ChannelID,
		Data: feedback.PipelineCompletedData{
			MeetingID:   result.MeetingID,
			MeetingName: sess.Name,
			Notes:       result.Notes,
			AutoStopped: true,
		},
	})
}

func (r *Recorder) recordingPath(guildID string) string {
	filename := fmt.Sprintf("recording_%s_%s.wav", guildID, time.Now().Format("20060102_150405"))
	return filepath.Join(r.tempDir, filename)
}
