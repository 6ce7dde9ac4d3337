package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/cxagent/internal/config"
)

// ProviderGenerator adapts an agentsdk-go model provider to Generator.
type ProviderGenerator struct {
	provider model.Provider
	timeout  time.Duration
}

func NewProviderGenerator(p model.Provider, timeout time.Duration) *ProviderGenerator {
	return &ProviderGenerator{provider: p, timeout: timeout}
}

// NewFromConfig builds the configured provider. Retries inside the SDK are
// limited to one attempt because callers run their own backoff loops.
func NewFromConfig(cfg *config.Config) (*ProviderGenerator, error) {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return nil, ErrNoProvider
	}

	var provider model.Provider
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:     cfg.Provider.APIKey,
			BaseURL:    cfg.Provider.BaseURL,
			ModelName:  cfg.Agent.Model,
			MaxTokens:  cfg.Composer.MaxTokens,
			MaxRetries: 1,
		}
	case "", "anthropic":
		provider = &model.AnthropicProvider{
			APIKey:     cfg.Provider.APIKey,
			BaseURL:    cfg.Provider.BaseURL,
			ModelName:  cfg.Agent.Model,
			MaxTokens:  cfg.Composer.MaxTokens,
			MaxRetries: 1,
		}
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}

	return NewProviderGenerator(provider, config.Millis(cfg.Composer.TimeoutMs)), nil
}

func (g *ProviderGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if g == nil || g.provider == nil {
		return "", Permanent(ErrNoProvider)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	mdl, err := g.provider.Model(ctx)
	if err != nil {
		return "", Permanent(fmt.Errorf("resolve model: %w", err))
	}

	system := req.System
	msgs := make([]model.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = strings.TrimSpace(system + "\n\n" + m.Content)
			continue
		}
		msgs = append(msgs, model.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := mdl.Complete(ctx, model.Request{
		System:      system,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", Classify(err)
	}
	if resp == nil {
		return "", Transient(ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", Transient(ErrEmptyResponse)
	}
	return text, nil
}
