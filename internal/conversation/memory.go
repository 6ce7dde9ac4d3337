// Package conversation holds per-session state: the bounded message window,
// the active topic and the recent emotion history.
package conversation

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/stellarlinkco/cxagent/internal/llm"
)

const (
	DefaultMaxHistory = 20
	DefaultMaxTokens  = 4000

	// minRetained is the floor below which eviction never goes, even when the
	// remaining messages exceed the token budget.
	minRetained = 2
)

var ErrInvalidRole = errors.New("invalid role")

type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

type Usage struct {
	CurrentTokens    int     `json:"current_tokens"`
	MaxTokens        int     `json:"max_tokens"`
	PercentUsed      float64 `json:"percentage_used"`
	TokensRemaining  int     `json:"tokens_remaining"`
	ApproachingLimit bool    `json:"approaching_limit"`
	Messages         int     `json:"messages"`
	Evicted          int     `json:"evicted"`
}

// Memory is an ordered, bounded message window. It is not safe for concurrent
// use; each session owns one.
type Memory struct {
	messages   []Message
	maxHistory int
	maxTokens  int
	tokens     int
	evicted    int
	now        func() time.Time
}

func NewMemory(maxHistory, maxTokens int) *Memory {
	if maxHistory < minRetained {
		maxHistory = DefaultMaxHistory
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Memory{maxHistory: maxHistory, maxTokens: maxTokens, now: time.Now}
}

// EstimateTokens approximates model tokens as one per four characters plus one.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n+3)/4 + 1
}

func (m *Memory) Append(role, content string) error {
	switch role {
	case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	msg := Message{
		Role:      role,
		Content:   content,
		Tokens:    EstimateTokens(content),
		CreatedAt: m.now(),
	}
	m.messages = append(m.messages, msg)
	m.tokens += msg.Tokens
	m.trim()
	return nil
}

func (m *Memory) trim() {
	for len(m.messages) > minRetained && (len(m.messages) > m.maxHistory || m.tokens > m.maxTokens) {
		m.tokens -= m.messages[0].Tokens
		m.messages[0] = Message{}
		m.messages = m.messages[1:]
		m.evicted++
	}
}

// RenderForModel returns the window as chat messages, led by systemPrompt
// when it is non-empty.
func (m *Memory) RenderForModel(systemPrompt string) []llm.Message {
	out := make([]llm.Message, 0, len(m.messages)+1)
	if systemPrompt != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, msg := range m.messages {
		out = append(out, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// Recent returns a copy of the last n messages, oldest first.
func (m *Memory) Recent(n int) []Message {
	if n <= 0 || n > len(m.messages) {
		n = len(m.messages)
	}
	out := make([]Message, n)
	copy(out, m.messages[len(m.messages)-n:])
	return out
}

func (m *Memory) Messages() []Message {
	return m.Recent(len(m.messages))
}

func (m *Memory) Len() int { return len(m.messages) }

func (m *Memory) Tokens() int { return m.tokens }

func (m *Memory) Usage() Usage {
	pct := float64(m.tokens) / float64(m.maxTokens) * 100
	remaining := m.maxTokens - m.tokens
	if remaining < 0 {
		remaining = 0
	}
	return Usage{
		CurrentTokens:    m.tokens,
		MaxTokens:        m.maxTokens,
		PercentUsed:      pct,
		TokensRemaining:  remaining,
		ApproachingLimit: pct > 80,
		Messages:         len(m.messages),
		Evicted:          m.evicted,
	}
}

func (m *Memory) Clear() {
	m.messages = nil
	m.tokens = 0
}
