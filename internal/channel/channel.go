// Package channel connects chat networks to the message bus.
package channel

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/cxagent/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

// BaseChannel holds what every channel shares: its name, the bus, the
// sender allow-list and the brand its customers talk to.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	allowed map[string]struct{}
	brand   string
	logger  zerolog.Logger
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string, brand string, logger zerolog.Logger) BaseChannel {
	allowed := make(map[string]struct{}, len(allowFrom))
	for _, id := range allowFrom {
		allowed[id] = struct{}{}
	}
	return BaseChannel{
		name:    name,
		bus:     b,
		allowed: allowed,
		brand:   brand,
		logger:  logger.With().Str("channel", name).Logger(),
	}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) Brand() string { return c.brand }

// IsAllowed reports whether senderID may talk to the agent. An empty
// allow-list admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[senderID]
	return ok
}

// deliver hands an inbound message to the gateway, stamping the channel's
// brand. It gives up when ctx is done.
func (c *BaseChannel) deliver(ctx context.Context, msg bus.InboundMessage) bool {
	msg.Channel = c.name
	if msg.Brand == "" {
		msg.Brand = c.brand
	}
	select {
	case c.bus.Inbound <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
