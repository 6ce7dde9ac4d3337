// Package bus carries chat messages between channels and the gateway.
package bus

import (
	"context"
	"sync"
)

type OutboundHandler func(msg OutboundMessage)

// MessageBus is a pair of buffered queues. Inbound is drained by the
// gateway; Outbound is fanned out to the handler registered for the
// message's channel.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu       sync.RWMutex
	handlers map[string]OutboundHandler
}

func NewMessageBus(size int) *MessageBus {
	if size < 0 {
		size = 0
	}
	return &MessageBus{
		Inbound:  make(chan InboundMessage, size),
		Outbound: make(chan OutboundMessage, size),
		handlers: make(map[string]OutboundHandler),
	}
}

// SubscribeOutbound registers the handler for one channel, replacing any
// earlier one.
func (b *MessageBus) SubscribeOutbound(channel string, h OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = h
}

// Publish queues a reply, giving up when ctx is done.
func (b *MessageBus) Publish(ctx context.Context, msg OutboundMessage) bool {
	select {
	case b.Outbound <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// DispatchOutbound delivers outbound messages until ctx is done. Messages
// for channels without a handler are dropped and reported to onDrop.
func (b *MessageBus) DispatchOutbound(ctx context.Context, onDrop func(OutboundMessage)) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			h, ok := b.handlers[msg.Channel]
			b.mu.RUnlock()
			if !ok {
				if onDrop != nil {
					onDrop(msg)
				}
				continue
			}
			h(msg)
		case <-ctx.Done():
			return
		}
	}
}
