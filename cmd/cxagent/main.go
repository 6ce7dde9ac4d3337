package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/cxagent/internal/brand"
	"github.com/stellarlinkco/cxagent/internal/composer"
	"github.com/stellarlinkco/cxagent/internal/config"
	"github.com/stellarlinkco/cxagent/internal/gateway"
	"github.com/stellarlinkco/cxagent/internal/llm"
	"github.com/stellarlinkco/cxagent/internal/logging"
	"github.com/stellarlinkco/cxagent/internal/orchestrator"
	"github.com/stellarlinkco/cxagent/internal/store"
)

// ChatOptions lets tests inject the model and the terminal.
type ChatOptions struct {
	Generator llm.Generator
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
}

var rootCmd = &cobra.Command{
	Use:          "cxagent",
	Short:        "cxagent - multi-brand customer support agent",
	SilenceUsage: true,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to a brand's agent, one message or REPL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runChatWithOptions(cmd.Context(), ChatOptions{Stdin: cmd.InOrStdin(), Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()})
	},
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway (channels, sessions, cron, metrics)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a default config and the sample brand",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runOnboard(cmd.Context(), cmd.OutOrStdout())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, brands and store contents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runStatus(cmd.Context(), cmd.OutOrStdout())
	},
}

var brandsCmd = &cobra.Command{
	Use:   "brands",
	Short: "List brands with their voice and policies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runBrands(cmd.OutOrStdout())
	},
}

var (
	messageFlag string
	brandFlag   string
	debugFlag   bool
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().StringVarP(&brandFlag, "brand", "b", "", "Brand to talk to (default from config)")
	chatCmd.Flags().BoolVar(&debugFlag, "debug", false, "Print turn metadata and debug logs")
	rootCmd.AddCommand(chatCmd, gatewayCmd, onboardCmd, statusCmd, brandsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runChatWithOptions(ctx context.Context, opts ChatOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	stdin, stdout, stderr := opts.Stdin, opts.Stdout, opts.Stderr
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log, stderr)
	if debugFlag {
		logger = logger.Level(zerolog.DebugLevel)
	} else if logger.GetLevel() < zerolog.WarnLevel {
		logger = logger.Level(zerolog.WarnLevel)
	}

	backends, err := gateway.OpenBackends(ctx, cfg, logger, gateway.BackendOptions{Generator: opts.Generator})
	if err != nil {
		return err
	}
	defer backends.Close()

	brandID := brandFlag
	if brandID == "" {
		brandID = cfg.Agent.DefaultBrand
	}
	orch, err := backends.NewOrchestrator("", brandID)
	if err != nil {
		return fmt.Errorf("%w (run 'cxagent onboard' or 'cxagent brands')", err)
	}

	if messageFlag != "" {
		reply, meta := orch.ProcessMessage(ctx, messageFlag, composer.Facts{})
		fmt.Fprintln(stdout, reply)
		if debugFlag {
			printMeta(stdout, meta)
		}
		return nil
	}

	b := orch.Brand()
	fmt.Fprintf(stdout, "cxagent chat with %s (type 'help' for commands)\n", b.Name)
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(input) {
		case "":
			continue
		case "exit", "quit", "bye":
			fmt.Fprintln(stdout, "Goodbye!")
			return nil
		case "help":
			fmt.Fprint(stdout, replHelp)
			continue
		case "stats":
			printStats(stdout, orch.Stats())
			continue
		case "clear":
			orch.Reset()
			fmt.Fprintln(stdout, "Conversation cleared.")
			continue
		}

		reply, meta := orch.ProcessMessage(ctx, input, composer.Facts{})
		fmt.Fprintf(stdout, "%s: %s\n", b.Name, reply)
		if debugFlag {
			printMeta(stdout, meta)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

const replHelp = `Commands:
  help     show this help
  stats    conversation statistics
  clear    start a new conversation
  exit     leave (also quit, bye)
`

func printMeta(w io.Writer, m orchestrator.Metadata) {
	var parts []string
	parts = append(parts, "scenario="+string(m.Scenario))
	parts = append(parts, fmt.Sprintf("emotion=%s(%d)", m.Emotion, m.EmotionIntensity))
	if m.ToolUsed != "" {
		status := "ok"
		if !m.ToolSuccess {
			status = "failed"
		}
		parts = append(parts, fmt.Sprintf("tool=%s:%s", m.ToolUsed, status))
	}
	if m.Topic.Active() {
		topic := string(m.Topic.Kind)
		if m.Topic.EntityID != "" {
			topic += ":" + m.Topic.EntityID
		}
		parts = append(parts, "topic="+topic)
	}
	if m.TopicSwitched {
		parts = append(parts, "switched")
	}
	if m.Escalation != nil {
		parts = append(parts, fmt.Sprintf("tier=%d reason=%s", m.Escalation.Verdict.Tier, m.Escalation.Verdict.Reason))
	}
	if m.LoopCount > 1 {
		parts = append(parts, fmt.Sprintf("loop=%d", m.LoopCount))
	}
	if m.Fallback {
		parts = append(parts, "fallback="+m.FallbackReason)
	}
	if m.Quality != nil {
		parts = append(parts, fmt.Sprintf("quality=%.1f", m.Quality.Overall))
	}
	parts = append(parts, "took="+m.Duration.Round(time.Millisecond).String())
	fmt.Fprintf(w, "  [%s]\n", strings.Join(parts, " "))
}

func printStats(w io.Writer, st orchestrator.Stats) {
	fmt.Fprintf(w, "Messages:        %d\n", st.Messages)
	fmt.Fprintf(w, "Emotions:        %s\n", formatCounts(st.Emotions))
	fmt.Fprintf(w, "Tool calls:      %s\n", formatCounts(st.ToolCalls))
	if len(st.ToolFailures) > 0 {
		fmt.Fprintf(w, "Tool failures:   %s\n", formatCounts(st.ToolFailures))
	}
	fmt.Fprintf(w, "Topic switches:  %d (maintained %d)\n", st.TopicSwitches, st.TopicsMaintained)
	fmt.Fprintf(w, "Escalations:     %d (prevented %d, %.0f%%)\n",
		st.Escalations.Total, st.Escalations.Prevented, st.Escalations.PreventionRate*100)
	fmt.Fprintf(w, "Fallbacks:       %d\n", st.Fallbacks)
	fmt.Fprintf(w, "Clarifications:  %d\n", st.Clarifications)
	fmt.Fprintf(w, "Loops detected:  %d\n", st.LoopsDetected)
	if st.Quality.Grade != "" {
		fmt.Fprintf(w, "Quality:         %.1f (%s)\n", st.Quality.Overall, st.Quality.Grade)
	}
	fmt.Fprintf(w, "Memory:          %d/%d tokens (%.0f%%)\n",
		st.Memory.CurrentTokens, st.Memory.MaxTokens, st.Memory.PercentUsed)
}

func formatCounts[K ~string](m map[K]int) string {
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[K(k)]))
	}
	return strings.Join(parts, " ")
}

func runGateway(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log, cmd.ErrOrStderr())

	gw, err := gateway.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(cmd.Context())
}

func runOnboard(ctx context.Context, w io.Writer) error {
	cfgPath := config.ConfigPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(w, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(w, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg, err := brand.LoadDir(cfg.Agent.BrandsDir, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("load brands: %w", err)
	}
	sample, err := reg.Get(brand.SampleID)
	if err != nil {
		if sample, err = brand.WriteSample(reg); err != nil {
			return fmt.Errorf("write sample brand: %w", err)
		}
		fmt.Fprintf(w, "Created brand: %s\n", sample.Dir)
	} else {
		fmt.Fprintf(w, "Brand already exists: %s\n", sample.Dir)
	}

	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	res, err := st.SeedBrand(ctx, sample)
	if err != nil {
		return fmt.Errorf("seed %s: %w", sample.ID, err)
	}
	fmt.Fprintf(w, "Seeded %s: %d orders, %d policies, %d products\n", sample.ID, res.Orders, res.Policies, res.Products)

	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintf(w, "  1. Edit %s to set your API key\n", cfgPath)
	fmt.Fprintln(w, "  2. Or set CXAGENT_API_KEY / ANTHROPIC_API_KEY")
	fmt.Fprintln(w, "  3. Run 'cxagent chat -m \"where is my order 12345?\"' to test")
	return nil
}

func runStatus(ctx context.Context, w io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(w, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(w, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(w, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(w, "Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Fprintf(w, "API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Fprintf(w, "Default brand: %s\n", cfg.Agent.DefaultBrand)
	fmt.Fprintf(w, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	if cfg.Handoff.Enabled {
		fmt.Fprintf(w, "Handoff: redis %s db=%d\n", cfg.Handoff.RedisAddr, cfg.Handoff.RedisDB)
	} else {
		fmt.Fprintln(w, "Handoff: disabled")
	}
	fmt.Fprintf(w, "Gateway: %s:%d%s\n", cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.MetricsPath)

	reg, err := brand.LoadDir(cfg.Agent.BrandsDir, zerolog.Nop())
	if err != nil {
		fmt.Fprintf(w, "Brands: error (%v)\n", err)
		return nil
	}
	fmt.Fprintf(w, "Brands: %d in %s\n", reg.Count(), cfg.Agent.BrandsDir)
	if reg.Count() == 0 {
		fmt.Fprintln(w, "  none (run 'cxagent onboard')")
	}

	if _, err := os.Stat(cfg.Store.DBPath); err != nil {
		fmt.Fprintln(w, "Store: not found (run 'cxagent onboard')")
		return nil
	}
	st, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		fmt.Fprintf(w, "Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()
	fmt.Fprintf(w, "Store: %s\n", cfg.Store.DBPath)
	for _, b := range reg.List() {
		counts, err := st.Counts(ctx, b.ID)
		if err != nil {
			fmt.Fprintf(w, "  %s: error (%v)\n", b.ID, err)
			continue
		}
		fmt.Fprintf(w, "  %s: %d orders, %d policies, %d products, %d escalations\n",
			b.ID, counts["orders"], counts["policies"], counts["products"], counts["escalations"])
	}
	return nil
}

func runBrands(w io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := brand.LoadDir(cfg.Agent.BrandsDir, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("load brands: %w", err)
	}

	brands := reg.List()
	if len(brands) == 0 {
		fmt.Fprintf(w, "No brands in %s (run 'cxagent onboard')\n", cfg.Agent.BrandsDir)
		return nil
	}
	for _, b := range brands {
		state := "active"
		if !b.Active {
			state = "inactive"
		}
		marker := " "
		if b.ID == cfg.Agent.DefaultBrand {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %s (%s, %s)\n", marker, b.ID, b.Name, b.Industry, state)
		if b.Voice.Tone != "" {
			fmt.Fprintf(w, "    tone: %s, %s\n", b.Voice.Tone, orDefault(b.Voice.Formality, "neutral"))
		}
		p := b.Policies
		fmt.Fprintf(w, "    returns: %s, free shipping over %.0f, COD: %s\n",
			returnWindow(p.ReturnWindowDays), p.ShippingThreshold(), yesNo(p.CODAvailable))
	}
	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func returnWindow(days int) string {
	if days <= 0 {
		return "no returns"
	}
	return fmt.Sprintf("%d days", days)
}

func yesNo(v *bool) string {
	if v == nil {
		return "unknown"
	}
	if *v {
		return "yes"
	}
	return "no"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
