package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"voicestats/internal/models"
	"voicestats/internal/period"
	"voicestats/internal/stats"
	"voicestats/internal/tracker"
)

const handlerTimeout = 10 * time.Second

// VoiceTracker records voice presence changes.
type VoiceTracker interface {
	HandleVoiceState(ctx context.Context, change tracker.VoiceStateChange) error
}

// RankingComputer produces leaderboards.
type RankingComputer interface {
	ComputeRanking(ctx context.Context, q stats.RankingQuery) (*stats.RankingResult, error)
}

// AggregateReader reads a single user's period aggregate.
type AggregateReader interface {
	GetPeriodAggregate(ctx context.Context, serverID, userID string, periodType models.PeriodType, periodKey string) (models.PeriodAggregate, error)
}

// ChannelRecorder remembers channel names for later display.
type ChannelRecorder interface {
	Remember(ctx context.Context, serverID, channelID, name string) error
}

// Options wires the bot to the rest of the application. Channels may be nil.
type Options struct {
	Tracker  VoiceTracker
	Ranker   RankingComputer
	Totals   AggregateReader
	Channels ChannelRecorder
	Calc     *period.Calculator
	Logger   *slog.Logger
	Now      func() time.Time
}

// Bot represents the Discord bot
type Bot struct {
	session  *discordgo.Session
	commands *commands
	tracker  VoiceTracker
	channels ChannelRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new Discord bot
func New(token string, opts Options) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	bot := &Bot{
		session:  session,
		commands: newCommands(opts),
		tracker:  opts.Tracker,
		channels: opts.Channels,
		logger:   opts.Logger,
		now:      opts.Now,
	}

	session.AddHandler(bot.voiceStateUpdate)
	session.AddHandler(bot.messageCreate)
	session.AddHandler(bot.channelCreate)
	session.AddHandler(bot.channelUpdate)

	return bot, nil
}

// State exposes the gateway state cache for channel lookups.
func (b *Bot) State() *discordgo.State {
	return b.session.State
}

// Start starts the bot
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	b.logger.Info("✅ Bot is running")
	return nil
}

// Stop stops the bot
func (b *Bot) Stop() error {
	return b.session.Close()
}

// voiceStateUpdate handles voice state updates
func (b *Bot) voiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	username := vs.UserID
	if vs.Member != nil && vs.Member.User != nil {
		username = vs.Member.User.Username
	}

	if vs.ChannelID != "" {
		if channel, err := s.State.Channel(vs.ChannelID); err == nil {
			b.remember(ctx, channel)
		}
	}

	err := b.tracker.HandleVoiceState(ctx, tracker.VoiceStateChange{
		ServerID:  vs.GuildID,
		UserID:    vs.UserID,
		Username:  username,
		ChannelID: vs.ChannelID,
		At:        b.now(),
	})
	if err != nil {
		b.logger.Error("failed to record voice state",
			"server_id", vs.GuildID,
			"user_id", vs.UserID,
			"channel_id", vs.ChannelID,
			"error", err)
	}
}

func (b *Bot) channelCreate(_ *discordgo.Session, c *discordgo.ChannelCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	b.remember(ctx, c.Channel)
}

func (b *Bot) channelUpdate(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	b.remember(ctx, c.Channel)
}

func (b *Bot) remember(ctx context.Context, channel *discordgo.Channel) {
	if b.channels == nil || channel == nil || channel.GuildID == "" {
		return
	}
	if channel.Type != discordgo.ChannelTypeGuildVoice && channel.Type != discordgo.ChannelTypeGuildStageVoice {
		return
	}
	if err := b.channels.Remember(ctx, channel.GuildID, channel.ID, channel.Name); err != nil {
		b.logger.Warn("failed to remember channel name",
			"server_id", channel.GuildID,
			"channel_id", channel.ID,
			"error", err)
	}
}

// messageCreate handles message creation events
func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, "!") {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	msg, ok := b.commands.handle(ctx, m.GuildID, m.Author, content)
	if !ok {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, msg); err != nil {
		b.logger.Warn("failed to send reply",
			"channel_id", m.ChannelID,
			"error", err)
	}
}
