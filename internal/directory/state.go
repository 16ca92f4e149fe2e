package directory

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
)

// StateDirectory reads channel names from the gateway state cache.
type StateDirectory struct {
	state *discordgo.State
}

// NewStateDirectory wraps a session's state cache.
func NewStateDirectory(state *discordgo.State) *StateDirectory {
	return &StateDirectory{state: state}
}

// ChannelName returns the cached name, or ErrUnknownChannel if the gateway
// has not seen the channel or it belongs to another server.
func (d *StateDirectory) ChannelName(_ context.Context, serverID, channelID string) (string, error) {
	if d.state == nil {
		return "", ErrUnknownChannel
	}

	channel, err := d.state.Channel(channelID)
	if errors.Is(err, discordgo.ErrStateNotFound) || errors.Is(err, discordgo.ErrNilState) {
		return "", ErrUnknownChannel
	}
	if err != nil {
		return "", err
	}
	if channel.GuildID != serverID {
		return "", ErrUnknownChannel
	}
	return channel.Name, nil
}
