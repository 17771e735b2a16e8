package session

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry maps a guild ID to its single live recording session. Create,
// Lookup and Remove are atomic with respect to each other, so concurrent
// Create calls for the same guild can never both succeed.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create inserts a new session for guildID in StateRecording.
// Fails with ErrAlreadyRecording if a live session exists.
func (r *Registry) Create(guildID, channelID, name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[guildID]; exists {
		return nil, ErrAlreadyRecording
	}

	sess := newSession(guildID, channelID, name)
	r.sessions[guildID] = sess

	logrus.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"guild_id":   guildID,
		"channel_id": channelID,
		"name":       name,
	}).Info("Recording session created")
	return sess, nil
}

// Lookup returns the live session for guildID, if any
func (r *Registry) Lookup(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[guildID]
	return sess, ok
}

// Remove deletes the entry for guildID. Removing an absent entry is a no-op.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[guildID]; ok {
		delete(r.sessions, guildID)
		logrus.WithField("guild_id", guildID).Debug("Recording session removed")
	}
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
