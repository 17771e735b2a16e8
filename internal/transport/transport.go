package transport

// FrameHandler receives one decoded PCM frame from a voice channel.
// speakerID identifies the user the frame belongs to; pcm is interleaved
// s16le stereo at 48kHz.
type FrameHandler func(speakerID string, pcm []byte)

// VoiceTransport delivers decoded audio frames for a guild's voice channel.
// Implementations own the wire protocol; callers only see frames.
type VoiceTransport interface {
	// StartListening begins delivering frames for guildID to onFrame.
	// The handler is invoked from the transport's receive goroutine.
	StartListening(guildID string, onFrame FrameHandler) error

	// StopListening stops frame delivery for guildID. Idempotent.
	StopListening(guildID string)

	// IsListening reports whether frames are being delivered for guildID
	IsListening(guildID string) bool
}
