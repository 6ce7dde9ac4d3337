// Package llm is the narrow text-generation seam used by the resolver and the
// composer. Production traffic goes through agentsdk-go providers; tests
// inject scripted generators.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	System      string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

// Generator produces a single completion for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Temperature returns a pointer suitable for Request.Temperature.
func Temperature(v float64) *float64 {
	return &v
}

// Unavailable is used when no provider is configured. Every call fails
// permanently so callers drop straight to their deterministic fallbacks.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, Request) (string, error) {
	return "", Permanent(ErrNoProvider)
}
