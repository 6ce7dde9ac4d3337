// Package gateway connects chat channels to per-session conversations.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stellarlinkco/cxagent/internal/bus"
	"github.com/stellarlinkco/cxagent/internal/channel"
	"github.com/stellarlinkco/cxagent/internal/config"
	"github.com/stellarlinkco/cxagent/internal/cron"
	"github.com/stellarlinkco/cxagent/internal/logging"
	"github.com/stellarlinkco/cxagent/internal/metrics"
	"github.com/stellarlinkco/cxagent/internal/orchestrator"
)

const (
	sweepJob = "session-sweep"
	statsJob = "stats-snapshot"

	sweepSpec = "@every 1m"
	statsSpec = "0 */5 * * * *"

	unavailableReply = "Sorry, support for this chat is not available right now. Please try again later."
	shutdownTimeout  = 5 * time.Second
)

type Options struct {
	// SignalChan replaces SIGINT/SIGTERM handling.
	SignalChan chan os.Signal
	Backends   BackendOptions
}

type Gateway struct {
	cfg        *config.Config
	logger     zerolog.Logger
	bus        *bus.MessageBus
	backends   *Backends
	sessions   *Sessions
	channels   *channel.ChannelManager
	cron       *cron.Service
	server     *http.Server
	signalChan chan os.Signal

	turns    sync.WaitGroup
	mu       sync.Mutex
	addr     net.Addr
	shutdown sync.Once
}

func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Gateway, error) {
	return NewWithOptions(ctx, cfg, logger, Options{})
}

func NewWithOptions(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Gateway, error) {
	if opts.Backends.Metrics == nil {
		opts.Backends.Metrics = metrics.New()
	}
	backends, err := OpenBackends(ctx, cfg, logger, opts.Backends)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:        cfg,
		logger:     logging.Component(logger, "gateway"),
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		backends:   backends,
		signalChan: opts.SignalChan,
	}
	g.sessions = NewSessions(func(key, brandID string) (Conversation, error) {
		return backends.NewOrchestrator(key, brandID)
	}, backends.Metrics)

	g.channels, err = channel.NewChannelManager(cfg.Channels, cfg.Agent.DefaultBrand, g.bus, logger)
	if err != nil {
		_ = backends.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}

	g.cron = cron.NewService(logger)
	if err := g.registerJobs(); err != nil {
		_ = backends.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Gateway.MetricsPath, backends.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	g.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	return g, nil
}

func (g *Gateway) registerJobs() error {
	idle := g.cfg.IdleTimeout()
	if err := g.cron.Add(sweepJob, sweepSpec, func(context.Context) error {
		if n := g.sessions.Sweep(idle); n > 0 {
			g.logger.Info().Int("removed", n).Int("active", g.sessions.Len()).Msg("idle sessions swept")
		}
		return nil
	}); err != nil {
		return err
	}
	return g.cron.Add(statsJob, statsSpec, func(context.Context) error {
		sum := g.sessions.Summary()
		g.logger.Info().
			Int("sessions", sum.Sessions).
			Int("messages", sum.Messages).
			Int("escalations", sum.Escalations).
			Int("prevented", sum.Prevented).
			Int("fallbacks", sum.Fallbacks).
			Int("loops", sum.LoopsDetected).
			Msg("stats snapshot")
		return nil
	})
}

// Channels exposes the channel manager so callers can add channels before Run.
func (g *Gateway) Channels() *channel.ChannelManager { return g.channels }

func (g *Gateway) Sessions() *Sessions { return g.sessions }

// Addr is the metrics listener's address once Run has started listening.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Run serves until a signal arrives or ctx is done, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hostPort := net.JoinHostPort(g.cfg.Gateway.Host, strconv.Itoa(g.cfg.Gateway.Port))
	ln, err := net.Listen("tcp", hostPort)
	if err != nil {
		_ = g.Shutdown()
		_ = g.backends.Close()
		return fmt.Errorf("listen %s: %w", hostPort, err)
	}
	g.mu.Lock()
	g.addr = ln.Addr()
	g.mu.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.bus.DispatchOutbound(egCtx, func(msg bus.OutboundMessage) {
			g.logger.Warn().Str("channel", msg.Channel).Str("chat", msg.ChatID).Msg("no channel for reply, dropped")
		})
		return nil
	})
	eg.Go(func() error {
		g.processLoop(egCtx)
		return nil
	})
	eg.Go(func() error {
		if err := g.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		err := g.backends.Brands.Watch(egCtx, func() { g.backends.SeedAll(egCtx) })
		if err != nil {
			g.logger.Warn().Err(err).Msg("brand hot reload disabled")
		}
		return nil
	})

	if err := g.channels.StartAll(egCtx); err != nil {
		cancel()
		_ = g.Shutdown()
		_ = eg.Wait()
		_ = g.backends.Close()
		return fmt.Errorf("start channels: %w", err)
	}
	if err := g.cron.Start(egCtx); err != nil {
		g.logger.Warn().Err(err).Msg("cron start")
	}

	g.logger.Info().
		Str("addr", ln.Addr().String()).
		Strs("channels", g.channels.EnabledChannels()).
		Int("brands", g.backends.Brands.Count()).
		Msg("running")

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
		g.logger.Info().Msg("shutting down")
	case <-egCtx.Done():
	}

	shutdownErr := g.Shutdown()
	cancel()
	runErr := eg.Wait()
	g.turns.Wait()
	return errors.Join(runErr, shutdownErr, g.backends.Close())
}

// processLoop queues each inbound message on its session as it arrives so
// that one chat is answered in order while other chats run in parallel.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	brandID := msg.Brand
	if brandID == "" {
		brandID = g.cfg.Agent.DefaultBrand
	}
	key := msg.SessionKey()
	log := g.logger.With().Str("session", key).Str("brand", brandID).Logger()
	log.Debug().Str("sender", msg.SenderID).Str("text", truncate(msg.Content, 80)).Msg("inbound")

	g.turns.Add(1)
	err := g.sessions.Submit(ctx, key, brandID, msg.Content, func(reply string, meta orchestrator.Metadata) {
		defer g.turns.Done()
		ev := log.Info().
			Str("scenario", string(meta.Scenario)).
			Str("emotion", string(meta.Emotion)).
			Bool("fallback", meta.Fallback).
			Dur("took", meta.Duration)
		if meta.Escalated() {
			ev = ev.Int("tier", int(meta.Escalation.Verdict.Tier)).Str("reason", string(meta.Escalation.Verdict.Reason))
		}
		ev.Msg("replied")
		g.reply(ctx, log, msg, reply)
	})
	if err != nil {
		defer g.turns.Done()
		log.Error().Err(err).Msg("session unavailable")
		g.reply(ctx, log, msg, unavailableReply)
	}
}

func (g *Gateway) reply(ctx context.Context, log zerolog.Logger, msg bus.InboundMessage, text string) {
	if !g.bus.Publish(ctx, bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: text}) {
		log.Warn().Msg("reply dropped on shutdown")
	}
}

// Shutdown stops channels, cron and the metrics server. It is safe to call
// more than once.
func (g *Gateway) Shutdown() error {
	var err error
	g.shutdown.Do(func() {
		_ = g.channels.StopAll()
		g.cron.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := g.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("stop metrics server: %w", serr)
		}
		g.logger.Info().Int("sessions", g.sessions.Len()).Msg("shutdown complete")
	})
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
