package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stellarlinkco/cxagent/internal/brand"
	"github.com/stellarlinkco/cxagent/internal/config"
	"github.com/stellarlinkco/cxagent/internal/handoff"
	"github.com/stellarlinkco/cxagent/internal/llm"
	"github.com/stellarlinkco/cxagent/internal/metrics"
	"github.com/stellarlinkco/cxagent/internal/orchestrator"
	"github.com/stellarlinkco/cxagent/internal/store"
)

// Backends are the shared services every conversation draws on.
type Backends struct {
	Config    *config.Config
	Brands    *brand.Registry
	Store     *store.Store
	Generator llm.Generator
	Handoff   handoff.Queue
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	redis *handoff.RedisQueue
}

// BackendOptions override pieces of the configured stack, mostly for tests.
type BackendOptions struct {
	Generator llm.Generator
	Handoff   handoff.Queue
	Metrics   *metrics.Metrics
}

// OpenBackends loads brands, opens and seeds the store, and connects the
// model provider and the handoff queue. A missing API key leaves the
// generator unavailable so replies come from templates.
func OpenBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts BackendOptions) (*Backends, error) {
	b := &Backends{Config: cfg, Metrics: opts.Metrics, Logger: logger}

	brands, err := brand.LoadDir(cfg.Agent.BrandsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("load brands: %w", err)
	}
	b.Brands = brands

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	b.Store = st
	b.SeedAll(ctx)

	switch {
	case opts.Generator != nil:
		b.Generator = opts.Generator
	default:
		gen, err := llm.NewFromConfig(cfg)
		switch {
		case errors.Is(err, llm.ErrNoProvider):
			logger.Warn().Msg("no API key configured, replies will use templates")
			b.Generator = llm.Unavailable{}
		case err != nil:
			_ = st.Close()
			return nil, fmt.Errorf("create provider: %w", err)
		default:
			b.Generator = gen
		}
	}

	switch {
	case opts.Handoff != nil:
		b.Handoff = opts.Handoff
	case cfg.Handoff.Enabled:
		q, err := handoff.Dial(ctx, cfg.Handoff.RedisAddr, cfg.Handoff.RedisDB, cfg.Handoff.KeyPrefix)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connect handoff queue: %w", err)
		}
		b.Handoff, b.redis = q, q
	default:
		b.Handoff = handoff.Nop{}
	}
	return b, nil
}

// SeedAll upserts every registered brand's seed data. Failures are logged
// per brand.
func (b *Backends) SeedAll(ctx context.Context) {
	for _, br := range b.Brands.List() {
		res, err := b.Store.SeedBrand(ctx, br)
		if err != nil {
			b.Logger.Warn().Err(err).Str("brand", br.ID).Msg("seed brand data")
			continue
		}
		b.Logger.Debug().Str("brand", br.ID).
			Int("orders", res.Orders).
			Int("policies", res.Policies).
			Int("products", res.Products).
			Msg("brand data seeded")
	}
}

// NewOrchestrator starts a conversation for brandID wired to the backends.
func (b *Backends) NewOrchestrator(sessionID, brandID string) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(b.Brands, brandID, orchestrator.Options{
		SessionID: sessionID,
		Config:    b.Config,
		Generator: b.Generator,
		Data:      b.Store,
		Recorder:  b.Store,
		Handoff:   b.Handoff,
		Metrics:   b.Metrics,
		Logger:    b.Logger,
	})
}

func (b *Backends) Close() error {
	var errs []error
	if b.redis != nil {
		errs = append(errs, b.redis.Close())
	}
	if b.Store != nil {
		errs = append(errs, b.Store.Close())
	}
	return errors.Join(errs...)
}
