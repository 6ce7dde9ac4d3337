package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/cxagent/internal/bus"
	"github.com/stellarlinkco/cxagent/internal/config"
)

const (
	telegramChannelName = "telegram"
	// Telegram rejects messages over 4096 characters.
	telegramChunk = 4000
)

var errBotNotReady = errors.New("telegram bot not initialized")

// TelegramBot is the slice of the bot API the channel uses.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() { w.bot.StopReceivingUpdates() }

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) { return w.bot.Send(c) }

func (w *tgBotWrapper) GetSelf() tgbotapi.User { return w.bot.Self }

// BotFactory creates bots; tests swap in a fake.
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	proxy      string
	botFactory BotFactory

	mu     sync.Mutex
	bot    TelegramBot
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, logger zerolog.Logger) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, logger, defaultBotFactory)
}

func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, logger zerolog.Logger, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom, cfg.Brand, logger),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		botFactory:  factory,
	}, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.SetBot(bot)
	t.logger.Info().Str("bot", bot.GetSelf().UserName).Msg("authorized")
	return nil
}

// Start begins long polling. It returns once polling is running.
func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel, t.done = cancel, done
	bot := t.bot
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	go func() {
		defer close(done)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					t.handleMessage(ctx, update.Message)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	t.logger.Info().Str("brand", t.brand).Msg("polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		t.logger.Warn().Str("sender", senderID).Str("username", msg.From.UserName).Msg("rejected message")
		return
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	t.deliver(ctx, bus.InboundMessage{
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"first_name": msg.From.FirstName,
			"message_id": msg.MessageID,
		},
	})
}

func (t *TelegramChannel) Stop() error {
	t.mu.Lock()
	cancel, done, bot := t.cancel, t.done, t.bot
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if bot != nil {
		bot.StopReceivingUpdates()
	}
	if done != nil {
		<-done
	}
	t.logger.Info().Msg("stopped")
	return nil
}

func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bot = bot
}

// Send delivers a reply, split into chunks Telegram accepts. A chunk the
// HTML parser rejects is resent as plain text.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return errBotNotReady
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	for _, chunk := range splitMessage(msg.Content, telegramChunk) {
		tgMsg := tgbotapi.NewMessage(chatID, toTelegramHTML(chunk))
		tgMsg.ParseMode = tgbotapi.ModeHTML
		if _, err := bot.Send(tgMsg); err != nil {
			tgMsg.ParseMode = ""
			tgMsg.Text = chunk
			if _, err := bot.Send(tgMsg); err != nil {
				return fmt.Errorf("send telegram message: %w", err)
			}
		}
	}
	return nil
}

// splitMessage cuts s into pieces of at most limit runes, preferring to
// break after a newline.
func splitMessage(s string, limit int) []string {
	var chunks []string
	for {
		r := []rune(s)
		if len(r) <= limit {
			if strings.TrimSpace(s) != "" {
				chunks = append(chunks, s)
			}
			return chunks
		}
		head := string(r[:limit])
		if i := strings.LastIndex(head, "\n"); i > 0 {
			head = head[:i+1]
		}
		chunks = append(chunks, head)
		s = s[len(head):]
	}
}

// toTelegramHTML escapes HTML and turns **bold** into <b>bold</b>.
func toTelegramHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	for {
		start := strings.Index(s, "**")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+2:], "**")
		if end == -1 {
			break
		}
		end += start + 2
		s = s[:start] + "<b>" + s[start+2:end] + "</b>" + s[end+2:]
	}
	return s
}
