package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sink delivers a rendered notification to its destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// LogSink writes notifications to the logger. It is the fallback when no chat
// destination is configured.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "notify").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, text string) error {
	s.log.Info().Str("sink", "log").Msg(text)
	return nil
}

// TelegramSink posts notifications to one chat. The bot connects lazily so a Telegram
// outage at startup does not block the engine.
type TelegramSink struct {
	token    string
	chatID   int64
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// TelegramOption customizes a TelegramSink.
type TelegramOption func(*TelegramSink)

// WithEndpoint overrides the Bot API endpoint format (see tgbotapi.APIEndpoint).
func WithEndpoint(endpoint string) TelegramOption {
	return func(s *TelegramSink) { s.endpoint = endpoint }
}

func WithHTTPClient(c *http.Client) TelegramOption {
	return func(s *TelegramSink) { s.client = c }
}

func NewTelegramSink(token, chatID string, opts ...TelegramOption) (*TelegramSink, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("telegram: bot token required")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: chat id %q: %w", chatID, err)
	}
	s := &TelegramSink{
		token:    token,
		chatID:   id,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := s.connect()
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (s *TelegramSink) connect() (*tgbotapi.BotAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bot != nil {
		return s.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(s.token, s.endpoint, s.client)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	s.bot = bot
	return bot, nil
}
