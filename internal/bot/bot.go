package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/meetscribe/discord-meeting-notes/internal/audio"
	"github.com/meetscribe/discord-meeting-notes/internal/feedback"
	"github.com/meetscribe/discord-meeting-notes/internal/pipeline"
	"github.com/meetscribe/discord-meeting-notes/internal/session"
	"github.com/meetscribe/discord-meeting-notes/internal/storage"
	"github.com/meetscribe/discord-meeting-notes/internal/transport"
	"github.com/sirupsen/logrus"
)

const helpText = `**Discord Meeting Notes Bot Commands:**
- ` + "`!join`" + ` - Join your current voice channel
- ` + "`!startmeeting [name]`" + ` - Start recording a meeting (name is optional)
- ` + "`!stopmeeting`" + ` - Stop recording and generate meeting notes
- ` + "`!getnotes [meeting_id]`" + ` - Get notes from a recent meeting
- ` + "`!leave`" + ` - Leave the voice channel
- ` + "`!help`" + ` - Show this help message`

// messenger is the subset of the Discord API the bot uses to deliver
// output, satisfied by *discordgo.Session
type messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelFileSend(channelID, name string, r io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot is the Discord command surface over the recording core
type Bot struct {
	discord   *discordgo.Session
	msg       messenger
	transport *transport.DiscordTransport
	recorder  *session.Recorder
	store     *storage.Store

	mu       sync.Mutex
	announce map[string]string // guildID -> text channel for async updates
}

// New wires the bot onto an existing Discord session and subscribes it to
// pipeline events so auto-stopped meetings still get their notes delivered
func New(discord *discordgo.Session, tr *transport.DiscordTransport, rec *session.Recorder, store *storage.Store, bus *feedback.Bus) *Bot {
	b := &Bot{
		discord:   discord,
		msg:       discord,
		transport: tr,
		recorder:  rec,
		store:     store,
		announce:  make(map[string]string),
	}

	discord.AddHandler(b.ready)
	discord.AddHandler(b.voiceStateUpdate)
	discord.AddHandler(b.messageCreate)

	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	if bus != nil {
		bus.Subscribe(feedback.EventStageStarted, b.onStageStarted)
		bus.Subscribe(feedback.EventPipelineCompleted, b.onPipelineCompleted)
		bus.Subscribe(feedback.EventPipelineFailed, b.onPipelineFailed)
	}

	return b
}

// Connect establishes the Discord gateway connection
func (b *Bot) Connect() error {
	return b.discord.Open()
}

// Disconnect closes the Discord connection
func (b *Bot) Disconnect() error {
	return b.discord.Close()
}

// Event handlers

func (b *Bot) ready(s *discordgo.Session, _ *discordgo.Ready) {
	logrus.WithField("username", s.State.User.Username).Info("Bot is ready")
}

func (b *Bot) voiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.UserID != s.State.User.ID {
		return
	}
	// Forced disconnect from a voice channel cancels any live recording
	if vsu.ChannelID == "" && vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID != "" {
		if err := b.recorder.NotifyDisrupted(vsu.GuildID); err == nil {
			logrus.WithField("guild_id", vsu.GuildID).Info("Recording stopped due to voice disconnection")
			b.send(b.announceChannel(vsu.GuildID), "Recording was cancelled: I was disconnected from the voice channel.")
		}
	}
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}

	fields := strings.Fields(m.Content)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return
	}

	switch fields[0] {
	case "!join":
		b.handleJoin(s, m)
	case "!leave":
		b.transport.LeaveChannel(m.GuildID)
		b.send(m.ChannelID, "Left voice channel!")
	case "!startmeeting":
		b.handleStartMeeting(m, strings.Join(fields[1:], " "))
	case "!stopmeeting":
		b.handleStopMeeting(m)
	case "!getnotes":
		b.handleGetNotes(m, fields[1:])
	case "!help":
		b.send(m.ChannelID, helpText)
	}
}

// Commands

func (b *Bot) handleJoin(s *discordgo.Session, m *discordgo.MessageCreate) {
	g, err := s.State.Guild(m.GuildID)
	if err != nil || g == nil {
		logrus.WithError(err).WithField("guild_id", m.GuildID).Error("Could not find guild in state")
		b.send(m.ChannelID, "Error: Could not retrieve guild information.")
		return
	}

	for _, vs := range g.VoiceStates {
		if vs.UserID == m.Author.ID {
			if err := b.transport.JoinChannel(m.GuildID, vs.ChannelID); err != nil {
				logrus.WithError(err).Error("Failed to join voice channel")
				b.send(m.ChannelID, "Failed to join your voice channel.")
				return
			}
			b.setAnnounceChannel(m.GuildID, m.ChannelID)
			b.send(m.ChannelID, "Joined voice channel!")
			return
		}
	}
	b.send(m.ChannelID, "You need to be in a voice channel for me to join.")
}

func (b *Bot) handleStartMeeting(m *discordgo.MessageCreate, name string) {
	channelID, ok := b.transport.ChannelID(m.GuildID)
	if !ok {
		b.send(m.ChannelID, "I need to be in a voice channel first. Use `!join`")
		return
	}

	sessionID, err := b.recorder.RequestStart(context.Background(), m.GuildID, channelID, name)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyRecording) {
			b.send(m.ChannelID, "A meeting is already being recorded in this server.")
			return
		}
		logrus.WithError(err).Error("Failed to start recording")
		b.send(m.ChannelID, "Failed to start recording: "+err.Error())
		return
	}
	b.setAnnounceChannel(m.GuildID, m.ChannelID)

	if name == "" {
		name = "this meeting"
	}
	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"guild_id":   m.GuildID,
	}).Debug("Start command accepted")
	b.send(m.ChannelID, fmt.Sprintf("📝 Started recording meeting: **%s**", name))
	b.send(m.ChannelID, "Use `!stopmeeting` when you're done, or the recording will automatically stop after the maximum duration.")
}

func (b *Bot) handleStopMeeting(m *discordgo.MessageCreate) {
	if !b.recorder.Recording(m.GuildID) {
		b.send(m.ChannelID, "No active meeting recording in this server.")
		return
	}

	b.setAnnounceChannel(m.GuildID, m.ChannelID)
	b.send(m.ChannelID, "📊 Processing meeting recording... This might take a few minutes.")

	// Run off the gateway event goroutine so other guilds stay responsive
	go func() {
		result, err := b.recorder.RequestStop(context.Background(), m.GuildID)
		if err != nil {
			b.send(m.ChannelID, stopErrorMessage(err))
			return
		}
		b.deliverNotes(m.ChannelID, result.MeetingID, result.MeetingName, result.Notes)
		b.send(m.ChannelID, fmt.Sprintf("Meeting recording processed! Use `!getnotes %d` to retrieve these notes again.", result.MeetingID))
	}()
}

func (b *Bot) handleGetNotes(m *discordgo.MessageCreate, args []string) {
	ctx := context.Background()

	if len(args) == 0 {
		meetings, err := b.store.ListRecent(ctx, m.GuildID, 5)
		if err != nil {
			logrus.WithError(err).Error("Failed to list meetings")
			b.send(m.ChannelID, "Error retrieving recent meetings.")
			return
		}
		if len(meetings) == 0 {
			b.send(m.ChannelID, "No recent meetings found.")
			return
		}

		var sb strings.Builder
		sb.WriteString("Recent meetings:\n")
		for _, meeting := range meetings {
			sb.WriteString(fmt.Sprintf("- ID: %d | %s | %s\n", meeting.ID, meeting.Name, meeting.StartTime.Format("2006-01-02 15:04")))
		}
		b.send(m.ChannelID, sb.String())
		return
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		b.send(m.ChannelID, "Meeting ID must be a number.")
		return
	}

	meeting, err := b.store.GetMeeting(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrMeetingNotFound) {
			b.send(m.ChannelID, fmt.Sprintf("Meeting with ID %d not found.", id))
			return
		}
		logrus.WithError(err).Error("Failed to load meeting")
		b.send(m.ChannelID, "Error retrieving notes.")
		return
	}

	b.deliverNotes(m.ChannelID, meeting.ID, meeting.Name, meeting.Notes)
}

// Pipeline event handlers (async feedback, mainly for auto-stopped sessions)

func (b *Bot) onStageStarted(event feedback.Event) {
	data, ok := event.Data.(feedback.StageStartedData)
	if !ok {
		return
	}

	var msg string
	switch pipeline.Stage(data.Stage) {
	case pipeline.StageTranscription:
		msg = "🔊 Transcribing audio..."
	case pipeline.StageSummarization:
		msg = "📝 Generating meeting notes..."
	default:
		return
	}
	b.send(b.announceChannel(event.GuildID), msg)
}

func (b *Bot) onPipelineCompleted(event feedback.Event) {
	data, ok := event.Data.(feedback.PipelineCompletedData)
	if !ok || !data.AutoStopped {
		return
	}
	channelID := b.announceChannel(event.GuildID)
	b.send(channelID, "⏱️ Recording reached the maximum duration and was stopped automatically.")
	b.deliverNotes(channelID, data.MeetingID, data.MeetingName, data.Notes)
	b.send(channelID, fmt.Sprintf("Use `!getnotes %d` to retrieve these notes again.", data.MeetingID))
}

func (b *Bot) onPipelineFailed(event feedback.Event) {
	data, ok := event.Data.(feedback.PipelineFailedData)
	if !ok {
		return
	}
	b.send(b.announceChannel(event.GuildID), fmt.Sprintf("❌ Error processing meeting (%s stage): %v", data.Stage, data.Err))
}

// Helpers

// deliverNotes posts the formatted notes. Anything over Discord's message
// limit goes out as a Markdown attachment so long meetings don't flood the
// channel; chunked messages are the fallback if the attachment is rejected.
func (b *Bot) deliverNotes(channelID string, meetingID int64, name, notes string) {
	content := fmt.Sprintf("# Meeting Notes: %s\n\n%s", name, notes)
	switch {
	case len(content) <= messageLimit:
		b.send(channelID, content)
	case b.sendFile(channelID, notesFilename(meetingID), content) == nil:
	default:
		for _, chunk := range splitMessage(content, messageLimit) {
			b.send(channelID, chunk)
		}
	}
	logrus.WithFields(logrus.Fields{
		"meeting_id": meetingID,
		"channel_id": channelID,
	}).Debug("Delivered meeting notes")
}

func notesFilename(meetingID int64) string {
	return fmt.Sprintf("notes_%d.md", meetingID)
}

func (b *Bot) send(channelID, content string) {
	if channelID == "" {
		return
	}
	if _, err := b.msg.ChannelMessageSend(channelID, content); err != nil {
		logrus.WithError(err).WithField("channel_id", channelID).Debug("Failed to send message")
	}
}

func (b *Bot) sendFile(channelID, name, content string) error {
	if channelID == "" {
		return nil
	}
	_, err := b.msg.ChannelFileSend(channelID, name, strings.NewReader(content))
	if err != nil {
		logrus.WithError(err).WithField("channel_id", channelID).Debug("Failed to send file")
	}
	return err
}

func (b *Bot) setAnnounceChannel(guildID, channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.announce[guildID] = channelID
}

func (b *Bot) announceChannel(guildID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.announce[guildID]
}

func stopErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		return "No active meeting recording in this server."
	case errors.Is(err, audio.ErrEmptyRecording):
		return "❌ No audio was recorded, nothing to process."
	case errors.Is(err, session.ErrSessionCancelled):
		return "Recording was cancelled before it could be processed."
	}

	var se *pipeline.StageError
	if errors.As(err, &se) {
		switch se.Stage {
		case pipeline.StageTranscription:
			return "❌ Transcription failed: " + se.Err.Error()
		case pipeline.StageSummarization:
			return "❌ Notes generation failed: " + se.Err.Error()
		case pipeline.StagePersistence:
			return "❌ Saving the meeting failed: " + se.Err.Error()
		}
	}
	return "❌ Error processing meeting: " + err.Error()
}
