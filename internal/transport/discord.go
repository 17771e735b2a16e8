package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/meetscribe/discord-meeting-notes/internal/audio"
	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

const frameSize = 960 // 20ms @ 48kHz

var (
	// ErrNotInVoiceChannel is returned when listening is requested for a
	// guild the bot has not joined
	ErrNotInVoiceChannel = errors.New("not connected to a voice channel in this server")

	// ErrAlreadyListening is returned when a guild already has a receive loop
	ErrAlreadyListening = errors.New("already listening in this server")
)

// DiscordTransport receives opus voice packets over discordgo, decodes them
// to PCM and hands frames to the registered handler. One voice connection
// and at most one receive loop exist per guild.
type DiscordTransport struct {
	discord *discordgo.Session
	mu      sync.Mutex
	conns   map[string]*voiceConn
}

type voiceConn struct {
	vc       *discordgo.VoiceConnection
	speakers *SpeakerMap
	stop     chan struct{}
	done     chan struct{}
}

// NewDiscord creates a transport bound to an existing Discord session
func NewDiscord(discord *discordgo.Session) *DiscordTransport {
	return &DiscordTransport{
		discord: discord,
		conns:   make(map[string]*voiceConn),
	}
}

// JoinChannel connects to a voice channel, replacing any previous
// connection for the guild
func (t *DiscordTransport) JoinChannel(guildID, channelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.conns[guildID]; ok {
		t.stopLocked(existing)
		if err := existing.vc.Disconnect(); err != nil {
			logrus.WithError(err).Debug("Error disconnecting from previous channel")
		}
		delete(t.conns, guildID)
	}

	// Muted: the bot only records. Not deafened: it needs to receive.
	vc, err := t.discord.ChannelVoiceJoin(guildID, channelID, true, false)
	if err != nil {
		return fmt.Errorf("error joining voice channel: %w", err)
	}

	speakers := NewSpeakerMap()
	vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		// #nosec G115 - SSRC is a 32-bit RTP field
		speakers.Map(uint32(vs.SSRC), vs.UserID)
	})

	t.conns[guildID] = &voiceConn{vc: vc, speakers: speakers}
	logrus.WithFields(logrus.Fields{
		"guild_id":   guildID,
		"channel_id": channelID,
	}).Info("Joined voice channel")
	return nil
}

// LeaveChannel disconnects from the guild's voice channel, stopping any
// active receive loop first
func (t *DiscordTransport) LeaveChannel(guildID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.conns[guildID]
	if !ok {
		return
	}
	t.stopLocked(c)
	if err := c.vc.Disconnect(); err != nil {
		logrus.WithError(err).Debug("Error disconnecting from voice channel")
	}
	delete(t.conns, guildID)
	logrus.WithField("guild_id", guildID).Info("Left voice channel")
}

// ChannelID returns the joined voice channel for a guild, if any
func (t *DiscordTransport) ChannelID(guildID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[guildID]; ok {
		return c.vc.ChannelID, true
	}
	return "", false
}

// StartListening spawns the receive loop for a guild's voice connection
func (t *DiscordTransport) StartListening(guildID string, onFrame FrameHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.conns[guildID]
	if !ok {
		return ErrNotInVoiceChannel
	}
	if c.stop != nil {
		return ErrAlreadyListening
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go t.receive(guildID, c, onFrame)
	return nil
}

// StopListening terminates the receive loop for a guild. Idempotent.
func (t *DiscordTransport) StopListening(guildID string) {
	t.mu.Lock()
	c, ok := t.conns[guildID]
	if !ok || c.stop == nil {
		t.mu.Unlock()
		return
	}
	stop, done := c.stop, c.done
	c.stop = nil
	c.done = nil
	t.mu.Unlock()

	close(stop)
	<-done
}

// IsListening reports whether a receive loop is active for the guild
func (t *DiscordTransport) IsListening(guildID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[guildID]
	return ok && c.stop != nil
}

func (t *DiscordTransport) stopLocked(c *voiceConn) {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop = nil
	c.done = nil
}

func (t *DiscordTransport) receive(guildID string, c *voiceConn, onFrame FrameHandler) {
	defer close(c.done)

	decoder, err := gopus.NewDecoder(audio.SampleRate, audio.Channels)
	if err != nil {
		logrus.WithError(err).Error("Error creating opus decoder")
		return
	}

	log := logrus.WithField("guild_id", guildID)
	log.Info("Started receiving voice")

	packetCount := 0
	for {
		select {
		case <-c.stop:
			log.WithField("packets_received", packetCount).Info("Stopped receiving voice")
			return
		case packet, ok := <-c.vc.OpusRecv:
			if !ok {
				log.Info("Voice receive channel closed")
				return
			}
			packetCount++

			// Discord sends 3-byte or smaller frames to mark silence
			if len(packet.Opus) <= 3 {
				continue
			}

			pcm, err := decoder.Decode(packet.Opus, frameSize, false)
			if err != nil {
				log.WithError(err).Debug("Error decoding opus")
				continue
			}

			pcmBytes := make([]byte, len(pcm)*2)
			for i := 0; i < len(pcm); i++ {
				// #nosec G115 - reinterpreting the sample bits, not converting the value
				binary.LittleEndian.PutUint16(pcmBytes[i*2:], uint16(pcm[i]))
			}

			onFrame(c.speakers.Resolve(packet.SSRC), pcmBytes)
		}
	}
}
