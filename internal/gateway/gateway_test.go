package gateway

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stellarlinkco/cxagent/internal/brand"
	"github.com/stellarlinkco/cxagent/internal/bus"
	"github.com/stellarlinkco/cxagent/internal/composer"
	"github.com/stellarlinkco/cxagent/internal/config"
	"github.com/stellarlinkco/cxagent/internal/cron"
	"github.com/stellarlinkco/cxagent/internal/llm"
)

type recordingChannel struct {
	sent chan bus.OutboundMessage
}

func (c *recordingChannel) Name() string                { return "telegram" }
func (c *recordingChannel) Start(context.Context) error { return nil }
func (c *recordingChannel) Stop() error                 { return nil }

func (c *recordingChannel) Send(m bus.OutboundMessage) error {
	c.sent <- m
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Agent.BrandsDir = filepath.Join(dir, "brands")
	cfg.Store.DBPath = filepath.Join(dir, "data", "cxagent.db")
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Composer.MaxRetries = 1
	cfg.Composer.InitialBackoffMs = 1

	_, err := brand.WriteSample(brand.NewRegistry(cfg.Agent.BrandsDir, zerolog.Nop()))
	require.NoError(t, err)
	return cfg
}

func cannedGenerator() llm.Generator {
	return llm.GeneratorFunc(func(context.Context, llm.Request) (string, error) {
		return "Thanks for reaching out, I am happy to help with that.", nil
	})
}

func TestGateway_EndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	cfg := testConfig(t)
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(context.Background(), cfg, zerolog.Nop(), Options{
		SignalChan: sigCh,
		Backends:   BackendOptions{Generator: cannedGenerator()},
	})
	require.NoError(t, err)

	ch := &recordingChannel{sent: make(chan bus.OutboundMessage, 4)}
	g.Channels().Add(ch)

	runErr := make(chan error, 1)
	go func() { runErr <- g.Run(context.Background()) }()
	require.Eventually(t, func() bool { return g.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	g.bus.Inbound <- bus.InboundMessage{Channel: "telegram", SenderID: "7", ChatID: "42", Content: "where is my order 12345?"}
	select {
	case out := <-ch.sent:
		assert.Equal(t, "42", out.ChatID)
		assert.NotEmpty(t, out.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply for known brand")
	}

	g.bus.Inbound <- bus.InboundMessage{Channel: "telegram", ChatID: "43", Brand: "nope", Content: "hello"}
	select {
	case out := <-ch.sent:
		assert.Equal(t, "43", out.ChatID)
		assert.Equal(t, unavailableReply, out.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("no reply for unknown brand")
	}
	assert.Equal(t, 1, g.Sessions().Len())

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + g.Addr().String() + cfg.Gateway.MetricsPath)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `cxagent_turns_total{brand="fashionhub"`)
	assert.Contains(t, string(body), "cxagent_active_sessions 1")

	resp, err = client.Get("http://" + g.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, g.cron.RunNow(sweepJob))
	require.NoError(t, g.cron.RunNow(statsJob))
	assert.Equal(t, 1, g.Sessions().Len(), "active session must survive the sweep")

	sigCh <- os.Interrupt
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after signal")
	}
}

func TestGateway_JobsRegistered(t *testing.T) {
	g, err := NewWithOptions(context.Background(), testConfig(t), zerolog.Nop(), Options{
		Backends: BackendOptions{Generator: cannedGenerator()},
	})
	require.NoError(t, err)
	defer g.backends.Close()

	var names []string
	for _, j := range g.cron.Jobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{sweepJob, statsJob}, names)
	assert.ErrorIs(t, g.cron.RunNow("missing"), cron.ErrUnknownJob)
}

func TestGateway_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Gateway.Port = ln.Addr().(*net.TCPAddr).Port
	g, err := NewWithOptions(context.Background(), cfg, zerolog.Nop(), Options{
		SignalChan: make(chan os.Signal),
		Backends:   BackendOptions{Generator: cannedGenerator()},
	})
	require.NoError(t, err)

	err = g.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

func TestGateway_TelegramWithoutToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Telegram.Enabled = true
	_, err := NewWithOptions(context.Background(), cfg, zerolog.Nop(), Options{
		Backends: BackendOptions{Generator: cannedGenerator()},
	})
	require.Error(t, err)
}

func TestOpenBackends_NoAPIKeyFallsBackToTemplates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider.APIKey = ""
	b, err := OpenBackends(context.Background(), cfg, zerolog.Nop(), BackendOptions{})
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, llm.Unavailable{}, b.Generator)
	counts, err := b.Store.Counts(context.Background(), brand.SampleID)
	require.NoError(t, err)
	assert.Positive(t, counts["orders"])

	orch, err := b.NewOrchestrator("cli:test", brand.SampleID)
	require.NoError(t, err)
	reply, meta := orch.ProcessMessage(context.Background(), "where is my order 12345?", composer.Facts{})
	assert.NotEmpty(t, reply)
	assert.True(t, meta.Fallback)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
		{"नमस्ते दुनिया", 3, "नमस..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.input, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}
