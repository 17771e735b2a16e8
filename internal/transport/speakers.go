package transport

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// SpeakerMap resolves RTP SSRC values to Discord users using only
// VoiceSpeakingUpdate events. Mappings are never deduced from audio
// patterns, so an unmapped SSRC resolves to a stable placeholder.
type SpeakerMap struct {
	mu         sync.RWMutex
	ssrcToUser map[uint32]string
}

// NewSpeakerMap creates an empty speaker map
func NewSpeakerMap() *SpeakerMap {
	return &SpeakerMap{
		ssrcToUser: make(map[uint32]string),
	}
}

// Map records an SSRC-to-user mapping from a VoiceSpeakingUpdate event
func (m *SpeakerMap) Map(ssrc uint32, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ssrcToUser[ssrc] = userID

	logrus.WithFields(logrus.Fields{
		"ssrc":    ssrc,
		"user_id": userID,
	}).Debug("SSRC mapped to user")
}

// Resolve returns the user ID for an SSRC, or "unknown-<ssrc>" when no
// speaking update has been seen for it yet
func (m *SpeakerMap) Resolve(ssrc uint32) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if userID, ok := m.ssrcToUser[ssrc]; ok {
		return userID
	}
	return fmt.Sprintf("unknown-%d", ssrc)
}

// Clear drops all mappings, used when the channel changes
func (m *SpeakerMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ssrcToUser = make(map[uint32]string)
}
