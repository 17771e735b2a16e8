package session

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry()

	sess, err := reg.Create("guild-1", "channel-9", "Standup")
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "guild-1", sess.GuildID)
	assert.Equal(t, "channel-9", sess.ChannelID)
	assert.Equal(t, "Standup", sess.Name)
	assert.Equal(t, StateRecording, sess.State())
	assert.NotZero(t, sess.StartedAt)
	assert.False(t, sess.Cancelled())
}

func TestRegistryCreateDuplicateFails(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Create("guild-1", "channel-1", "")
	require.NoError(t, err)

	_, err = reg.Create("guild-1", "channel-2", "")
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	// A different guild is unaffected
	_, err = reg.Create("guild-2", "channel-1", "")
	assert.NoError(t, err)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryLookupAndRemove(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Lookup("guild-1")
	assert.False(t, ok)

	created, err := reg.Create("guild-1", "channel-1", "")
	require.NoError(t, err)

	found, ok := reg.Lookup("guild-1")
	require.True(t, ok)
	assert.Same(t, created, found)

	reg.Remove("guild-1")
	_, ok = reg.Lookup("guild-1")
	assert.False(t, ok)

	// Removal is idempotent
	reg.Remove("guild-1")
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryConcurrentCreateSingleWinner(t *testing.T) {
	reg := NewRegistry()

	const goroutines = 32
	var successes int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if _, err := reg.Create("guild-1", "channel-1", ""); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes, "exactly one concurrent create may succeed")
	assert.Equal(t, 1, reg.Len())
}
