package channel

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/cxagent/internal/bus"
	"github.com/stellarlinkco/cxagent/internal/config"
	"github.com/stellarlinkco/cxagent/internal/logging"
)

type ChannelManager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	logger   zerolog.Logger
}

// NewChannelManager builds the enabled channels and subscribes each one to
// its outbound messages. defaultBrand serves channels that name no brand.
func NewChannelManager(cfg config.ChannelsConfig, defaultBrand string, b *bus.MessageBus, logger zerolog.Logger) (*ChannelManager, error) {
	m := &ChannelManager{
		channels: make(map[string]Channel),
		bus:      b,
		logger:   logging.Component(logger, "channels"),
	}

	if cfg.Telegram.Enabled {
		tg := cfg.Telegram
		if tg.Brand == "" {
			tg.Brand = defaultBrand
		}
		ch, err := NewTelegramChannel(tg, b, logger)
		if err != nil {
			return nil, fmt.Errorf("init telegram channel: %w", err)
		}
		m.Add(ch)
	}
	return m, nil
}

// Add registers ch and routes its outbound messages to it.
func (m *ChannelManager) Add(ch Channel) {
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.logger.Error().Err(err).Str("channel", ch.Name()).Str("chat", msg.ChatID).Msg("send failed")
		}
	})
}

// StartAll starts every channel and returns the first start error. ctx
// bounds the channels' lifetime, so it must outlive the call.
func (m *ChannelManager) StartAll(ctx context.Context) error {
	var g errgroup.Group
	for name, ch := range m.channels {
		g.Go(func() error {
			m.logger.Info().Str("channel", name).Msg("starting")
			if err := ch.Start(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every channel. Stop errors are logged, not returned.
func (m *ChannelManager) StopAll() error {
	for name, ch := range m.channels {
		m.logger.Info().Str("channel", name).Msg("stopping")
		if err := ch.Stop(); err != nil {
			m.logger.Warn().Err(err).Str("channel", name).Msg("stop failed")
		}
	}
	return nil
}

func (m *ChannelManager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
