package discord

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/keshon/soundboard/internal/audio"
	"github.com/keshon/soundboard/internal/storage"
)

var ErrNotConnected = errors.New("not connected to a voice channel")

// ChannelInfo is one joinable voice channel.
type ChannelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Bot owns the Discord gateway session and the single voice connection.
// Joining a channel always tears down the previous connection first and
// hands the new connection to the audio player as its sink.
type Bot struct {
	dg     *discordgo.Session
	player *audio.Player
	store  *storage.Storage

	mu      sync.Mutex
	vc      *discordgo.VoiceConnection
	guildID string
}

func NewBot(token string, player *audio.Player, store *storage.Storage) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	b := &Bot{dg: dg, player: player, store: store}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	dg.AddHandler(b.onReady)
	return b, nil
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	return nil
}

// Close leaves voice and shuts the gateway session down.
func (b *Bot) Close() error {
	b.Leave()
	return b.dg.Close()
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Info().Str("user", r.User.Username).Msg("discord gateway ready")

	// Auto-rejoin the channel we were in before the last restart.
	if channelID := b.store.Server().LastChannelID; channelID != "" {
		if _, err := b.Join(channelID); err != nil {
			log.Warn().Err(err).Str("channel", channelID).Msg("auto-rejoin failed")
		}
	}
}

// Channels lists every voice channel the bot can see, labelled
// "Guild - Channel" and sorted by label.
func (b *Bot) Channels() ([]ChannelInfo, error) {
	var out []ChannelInfo
	for _, guild := range b.dg.State.Guilds {
		channels, err := b.dg.GuildChannels(guild.ID)
		if err != nil {
			log.Warn().Err(err).Str("guild", guild.ID).Msg("channel listing failed")
			continue
		}
		name := guild.Name
		if name == "" {
			if g, err := b.dg.Guild(guild.ID); err == nil {
				name = g.Name
			}
		}
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildVoice {
				continue
			}
			out = append(out, ChannelInfo{
				ID:   ch.ID,
				Name: fmt.Sprintf("%s - %s", name, ch.Name),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Join connects to the given voice channel, leaving the current one first.
// The channel id is persisted for auto-rejoin after restart.
func (b *Bot) Join(channelID string) (string, error) {
	channel, err := b.dg.Channel(channelID)
	if err != nil {
		return "", fmt.Errorf("channel not found: %w", err)
	}

	b.Leave()

	vc, err := b.dg.ChannelVoiceJoin(channel.GuildID, channelID, false, true)
	if err != nil {
		// Defensive reset so a half-joined connection can't linger.
		b.Leave()
		return "", fmt.Errorf("failed to join voice channel: %w", err)
	}

	b.mu.Lock()
	b.vc = vc
	b.guildID = channel.GuildID
	b.mu.Unlock()

	b.player.SetSink(&voiceSink{vc: vc})

	if err := b.store.SetLastChannel(channelID); err != nil {
		log.Warn().Err(err).Msg("failed to persist last channel")
	}

	log.Info().Str("channel", channel.Name).Str("guild", channel.GuildID).Msg("joined voice channel")
	return channel.Name, nil
}

// Leave disconnects from voice. Returns ErrNotConnected when there is no
// active connection; callers treat that as a successful no-op.
func (b *Bot) Leave() error {
	b.mu.Lock()
	vc := b.vc
	b.vc = nil
	b.guildID = ""
	b.mu.Unlock()

	if vc == nil {
		return ErrNotConnected
	}

	b.player.ClearSink()
	if err := vc.Disconnect(); err != nil {
		log.Warn().Err(err).Msg("voice disconnect failed")
	}
	log.Info().Msg("left voice channel")
	return nil
}

// Connected reports whether a voice connection is active.
func (b *Bot) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.vc != nil
}

// voiceSink adapts a discordgo voice connection to the player's sink.
type voiceSink struct {
	vc *discordgo.VoiceConnection
}

func (s *voiceSink) Speaking(b bool) error {
	return s.vc.Speaking(b)
}

func (s *voiceSink) Opus() chan<- []byte {
	return s.vc.OpusSend
}
