// Package directory resolves Discord channel ids to display names.
package directory

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownChannel is returned by a Resolver that has no name for a channel.
var ErrUnknownChannel = errors.New("unknown channel")

// Resolver looks up the display name of a channel.
type Resolver interface {
	ChannelName(ctx context.Context, serverID, channelID string) (string, error)
}

// Chain asks each resolver in turn; the first non-empty name wins.
type Chain struct {
	resolvers []Resolver
}

// NewChain builds a chain, skipping nil resolvers.
func NewChain(resolvers ...Resolver) *Chain {
	c := &Chain{}
	for _, r := range resolvers {
		if r != nil {
			c.resolvers = append(c.resolvers, r)
		}
	}
	return c
}

// ChannelName returns the first name found. A channel no resolver knows
// yields an empty name and a nil error; lookup failures are only reported
// when no resolver produced a name.
func (c *Chain) ChannelName(ctx context.Context, serverID, channelID string) (string, error) {
	var errs []error
	for _, r := range c.resolvers {
		name, err := r.ChannelName(ctx, serverID, channelID)
		if err != nil {
			if !errors.Is(err, ErrUnknownChannel) {
				errs = append(errs, err)
			}
			continue
		}
		if name != "" {
			return name, nil
		}
	}

	if len(errs) > 0 {
		return "", fmt.Errorf("failed to resolve channel %s: %w", channelID, errors.Join(errs...))
	}
	return "", nil
}
