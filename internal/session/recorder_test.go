package session

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/meetscribe/discord-meeting-notes/internal/audio"
	"github.com/meetscribe/discord-meeting-notes/internal/pipeline"
	"github.com/meetscribe/discord-meeting-notes/internal/storage"
	"github.com/meetscribe/discord-meeting-notes/internal/transport"
	"github.com/meetscribe/discord-meeting-notes/pkg/notes"
	"github.com/meetscribe/discord-meeting-notes/pkg/transcriber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport delivers frames on demand instead of from a voice gateway
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]transport.FrameHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]transport.FrameHandler)}
}

func (f *fakeTransport) StartListening(guildID string, onFrame transport.FrameHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[guildID] = onFrame
	return nil
}

func (f *fakeTransport) StopListening(guildID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, guildID)
}

func (f *fakeTransport) IsListening(guildID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[guildID]
	return ok
}

func (f *fakeTransport) deliver(guildID, speakerID string, pcm []byte) {
	f.mu.Lock()
	handler := f.handlers[guildID]
	f.mu.Unlock()
	if handler != nil {
		handler(speakerID, pcm)
	}
}

// fakeStore records saved meetings in memory
type fakeStore struct {
	mu       sync.Mutex
	meetings []storage.Meeting
}

func (f *fakeStore) SaveMeeting(_ context.Context, m *storage.Meeting) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meetings = append(f.meetings, *m)
	return int64(len(f.meetings)), nil
}

func (f *fakeStore) saved() []storage.Meeting {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storage.Meeting, len(f.meetings))
	copy(out, f.meetings)
	return out
}

type recorderFixture struct {
	recorder    *Recorder
	registry    *Registry
	transport   *fakeTransport
	transcriber *transcriber.MockTranscriber
	generator   *notes.MockGenerator
	store       *fakeStore
	tempDir     string
}

func newFixture(t *testing.T, maxDuration time.Duration) *recorderFixture {
	t.Helper()

	f := &recorderFixture{
		registry:    NewRegistry(),
		transport:   newFakeTransport(),
		transcriber: &transcriber.MockTranscriber{Text: "hello world"},
		generator:   &notes.MockGenerator{Notes: "Decisions: none. Actions: none."},
		store:       &fakeStore{},
		tempDir:     t.TempDir(),
	}
	orchestrator := pipeline.New(f.transcriber, f.generator, f.store, nil)
	f.recorder = NewRecorder(f.registry, f.transport, orchestrator, nil, f.tempDir, maxDuration)
	return f
}

func (f *recorderFixture) tempFileCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	return len(entries)
}

func TestRecorderFullMeetingFlow(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	sessionID, err := f.recorder.RequestStart(ctx, "1", "9", "Planning")
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.True(t, f.transport.IsListening("1"))

	f.transport.deliver("1", "user-a", []byte{0x01, 0x02})
	f.transport.deliver("1", "user-b", []byte{0x03, 0x04})
	f.transport.deliver("1", "user-a", []byte{0x05, 0x06})

	result, err := f.recorder.RequestStop(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotZero(t, result.MeetingID)
	assert.Equal(t, "Planning", result.MeetingName)
	assert.Equal(t, "hello world", result.Transcript)
	assert.Equal(t, "Decisions: none. Actions: none.", result.Notes)

	saved := f.store.saved()
	require.Len(t, saved, 1)
	assert.Equal(t, "1", saved[0].GuildID)
	assert.Equal(t, "9", saved[0].ChannelID)
	assert.Equal(t, "hello world", saved[0].Transcript)

	// Session slot released, listening stopped, temp file cleaned up
	_, ok := f.registry.Lookup("1")
	assert.False(t, ok)
	assert.False(t, f.transport.IsListening("1"))
	assert.Equal(t, 0, f.tempFileCount(t))
}

func TestRecorderStartWhileRecordingFails(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.recorder.RequestStart(ctx, "1", "9", "")
	require.NoError(t, err)

	_, err = f.recorder.RequestStart(ctx, "1", "9", "")
	assert.ErrorIs(t, err, ErrAlreadyRecording)
}

func TestRecorderStopWithoutFramesIsEmptyRecording(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.recorder.RequestStart(ctx, "2", "9", "")
	require.NoError(t, err)

	result, err := f.recorder.RequestStop(ctx, "2")
	assert.ErrorIs(t, err, audio.ErrEmptyRecording)
	assert.Nil(t, result)

	// No meeting persisted, registry slot released
	assert.Empty(t, f.store.saved())
	_, ok := f.registry.Lookup("2")
	assert.False(t, ok)
	assert.Equal(t, 0, f.tempFileCount(t))
}

func TestRecorderRecording(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	assert.False(t, f.recorder.Recording("1"))

	_, err := f.recorder.RequestStart(ctx, "1", "9", "")
	require.NoError(t, err)
	assert.True(t, f.recorder.Recording("1"))

	f.transport.deliver("1", "user-a", []byte{0x01, 0x02})
	_, err = f.recorder.RequestStop(ctx, "1")
	require.NoError(t, err)
	assert.False(t, f.recorder.Recording("1"))
}

func TestRecorderDoubleStop(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.recorder.RequestStart(ctx, "1", "9", "")
	require.NoError(t, err)
	f.transport.deliver("1", "user-a", []byte{0x01, 0x02})

	_, err = f.recorder.RequestStop(ctx, "1")
	require.NoError(t, err)

	_, err = f.recorder.RequestStop(ctx, "1")
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Len(t, f.store.saved(), 1, "pipeline must not run twice")
}

func TestRecorderDisruption(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.recorder.RequestStart(ctx, "3", "9", "")
	require.NoError(t, err)
	f.transport.deliver("3", "user-a", []byte{0x01, 0x02})

	require.NoError(t, f.recorder.NotifyDisrupted("3"))

	// Registry slot released, pipeline never invoked, frames discarded
	_, ok := f.registry.Lookup("3")
	assert.False(t, ok)
	assert.False(t, f.transport.IsListening("3"))
	assert.Equal(t, 0, f.transcriber.Calls)
	assert.Empty(t, f.store.saved())

	// A second disruption is a recoverable no-op report
	assert.ErrorIs(t, f.recorder.NotifyDisrupted("3"), ErrNoActiveSession)
}

func TestRecorderAutoStopRunsPipeline(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()

	_, err := f.recorder.RequestStart(ctx, "4", "9", "Long meeting")
	require.NoError(t, err)
	f.transport.deliver("4", "user-a", []byte{0x01, 0x02})

	// No manual stop: the session must stop and process on its own
	require.Eventually(t, func() bool {
		_, ok := f.registry.Lookup("4")
		return !ok && len(f.store.saved()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	saved := f.store.saved()
	assert.Equal(t, "4", saved[0].GuildID)
	assert.Equal(t, "Long meeting", saved[0].Name)
	assert.False(t, f.transport.IsListening("4"))
	assert.Equal(t, 0, f.tempFileCount(t))

	// The racing manual stop now reports no active session
	_, err = f.recorder.RequestStop(ctx, "4")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestRecorderStageFailureStillReleasesSession(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.generator.Err = assert.AnError
	ctx := context.Background()

	_, err := f.recorder.RequestStart(ctx, "1", "9", "")
	require.NoError(t, err)
	f.transport.deliver("1", "user-a", []byte{0x01, 0x02})

	_, err = f.recorder.RequestStop(ctx, "1")
	require.Error(t, err)

	var se *pipeline.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, pipeline.StageSummarization, se.Stage)

	// Cleanup is unconditional: no ghost session, no partial persist, no temp file
	_, ok := f.registry.Lookup("1")
	assert.False(t, ok)
	assert.Empty(t, f.store.saved())
	assert.Equal(t, 0, f.tempFileCount(t))

	// The guild can start a new meeting right away
	_, err = f.recorder.RequestStart(ctx, "1", "9", "")
	assert.NoError(t, err)
}

func TestRecorderFramesAfterStopAreIgnored(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.recorder.RequestStart(ctx, "1", "9", "")
	require.NoError(t, err)

	sess, ok := f.registry.Lookup("1")
	require.True(t, ok)
	handlerBefore := func(speaker string, pcm []byte) {
		sess.Ingest(speaker, pcm)
	}

	f.transport.deliver("1", "user-a", []byte{0x01, 0x02})
	_, err = f.recorder.RequestStop(ctx, "1")
	require.NoError(t, err)

	// Late frames hit a non-recording session and are dropped
	handlerBefore("user-a", []byte{0x03, 0x04})
	assert.Equal(t, StateStopped, sess.State())
}

func TestRecorderSessionsAreIndependent(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	for _, guildID := range []string{"10", "11", "12"} {
		_, err := f.recorder.RequestStart(ctx, guildID, "9", "")
		require.NoError(t, err)
		f.transport.deliver(guildID, "user-a", []byte{0x01, 0x02})
	}

	// Stopping one guild leaves the others recording
	_, err := f.recorder.RequestStop(ctx, "11")
	require.NoError(t, err)

	_, ok := f.registry.Lookup("10")
	assert.True(t, ok)
	_, ok = f.registry.Lookup("12")
	assert.True(t, ok)
	assert.True(t, f.transport.IsListening("10"))
	assert.False(t, f.transport.IsListening("11"))
}
