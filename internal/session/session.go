package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meetscribe/discord-meeting-notes/internal/audio"
)

var (
	// ErrAlreadyRecording is returned when a guild already has a live session
	ErrAlreadyRecording = errors.New("a meeting is already being recorded in this server")

	// ErrNoActiveSession is returned when stopping a guild with no live session
	ErrNoActiveSession = errors.New("no active meeting recording in this server")

	// ErrSessionCancelled is returned when a session was torn down by a
	// transport disruption before it could produce a recording
	ErrSessionCancelled = errors.New("recording session was cancelled")
)

// State is the lifecycle state of a recording session
type State int32

const (
	// StateRecording accepts frames; the auto-stop timer is armed
	StateRecording State = iota
	// StateStopping no longer accepts frames; the buffer is being finalized
	StateStopping
	// StateStopped is the terminal success state
	StateStopped
	// StateCancelled is the terminal abnormal state; no pipeline runs
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Session is one bounded recording lifecycle for a single guild. All state
// transitions and frame appends are serialized by the session lock; the
// transition out of StateRecording is the single point after which the
// buffer is safe to finalize.
type Session struct {
	ID        string
	GuildID   string
	ChannelID string
	Name      string
	StartedAt time.Time

	mu        sync.Mutex
	buffer    *audio.Buffer
	timer     *StopTimer
	state     State
	cancelled bool
}

func newSession(guildID, channelID, name string) *Session {
	return &Session{
		ID:        uuid.New().String(),
		GuildID:   guildID,
		ChannelID: channelID,
		Name:      name,
		StartedAt: time.Now(),
		buffer:    audio.NewBuffer(),
		state:     StateRecording,
	}
}

// Ingest appends a frame if the session is still recording. Frames arriving
// after the session left StateRecording are dropped, never appended.
func (s *Session) Ingest(speakerID string, pcm []byte) bool {
	_ = speakerID // speakers are mixed into a single track
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return false
	}
	s.buffer.Append(pcm)
	return true
}

// ArmTimer attaches the auto-stop timer. Called once, right after creation.
func (s *Session) ArmTimer(d time.Duration, onFire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = NewStopTimer(d, onFire)
}

// beginStop transitions Recording -> Stopping and cancels the timer.
// Any other starting state yields ErrNoActiveSession, which makes a second
// stop request an idempotent no-op instead of a double finalize.
func (s *Session) beginStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return ErrNoActiveSession
	}
	s.state = StateStopping
	if s.timer != nil {
		s.timer.Cancel()
	}
	return nil
}

// finalize writes the buffer to path and settles the terminal state:
// StateStopped on success, StateCancelled if the buffer was empty.
func (s *Session) finalize(path string) error {
	err := s.buffer.Finalize(path)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateCancelled
		return err
	}
	if s.state == StateStopping {
		s.state = StateStopped
	}
	return nil
}

// Cancel forcibly invalidates the session. Safe to call from any state;
// collected frames are discarded and the pipeline must not run.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.state = StateCancelled
	if s.timer != nil {
		s.timer.Cancel()
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancelled reports whether the session was forcibly invalidated
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// FrameCount returns the number of buffered frames
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.FrameCount()
}
