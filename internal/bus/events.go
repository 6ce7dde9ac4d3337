package bus

import "time"

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	// Brand is the tenant the channel serves; empty means the default brand.
	Brand    string
	Metadata map[string]any
}

// SessionKey identifies the conversation a message belongs to.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}
