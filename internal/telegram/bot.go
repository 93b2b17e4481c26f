package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/harun/printdesk/internal/config"
	"github.com/harun/printdesk/pkg/router"
)

// ErrUnauthorized is returned by Run when Telegram rejects the bot token
var ErrUnauthorized = errors.New("telegram rejected the bot token")

// API is the subset of the Bot API client used by Bot
type API interface {
	GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error)
}

// EventFunc receives normalized inbound events
type EventFunc func(ctx context.Context, e router.Event) error

// ConnFunc receives connection state changes
type ConnFunc func(ConnEvent)

// Bot polls Telegram for updates and sends replies
type Bot struct {
	api      API
	self     tgbotapi.User
	token    string
	config   config.TelegramConfig
	logger   zerolog.Logger
	limiter  *rate.Limiter
	http     *http.Client
	fileURL  func(tgbotapi.File) string
	commands *Commands
}

// New authenticates the token and creates a bot
func New(cfg *config.TelegramConfig, logger zerolog.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		if isUnauthorized(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	bot := NewWithAPI(api, api.Self, cfg, logger)

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// NewWithAPI creates a bot around an already authenticated client
func NewWithAPI(api API, self tgbotapi.User, cfg *config.TelegramConfig, logger zerolog.Logger) *Bot {
	c := config.DefaultConfig().Telegram
	if cfg != nil {
		c = *cfg
	}

	limit := rate.Inf
	if c.SendRate > 0 {
		limit = rate.Limit(c.SendRate)
	}
	burst := c.SendBurst
	if burst <= 0 {
		burst = 1
	}

	b := &Bot{
		api:     api,
		self:    self,
		token:   c.BotToken,
		config:  c,
		logger:  logger.With().Str("component", "telegram").Logger(),
		limiter: rate.NewLimiter(limit, burst),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
	b.fileURL = func(f tgbotapi.File) string { return f.Link(b.token) }
	b.commands = NewCommands(b)
	return b
}

// Self returns the bot's own user
func (b *Bot) Self() tgbotapi.User {
	return b.self
}

// Commands returns the command aliases
func (b *Bot) Commands() *Commands {
	return b.commands
}

// Run polls for updates until ctx is done. Recoverable polling errors close
// the connection and retry with exponential backoff; an unauthorized token
// ends Run with ErrUnauthorized.
func (b *Bot) Run(ctx context.Context, onEvent EventFunc, onConn ConnFunc) error {
	if onEvent == nil {
		return fmt.Errorf("event handler is required")
	}
	if onConn == nil {
		onConn = func(ConnEvent) {}
	}

	bo := newBackoff(b.config.ReconnectInitial, b.config.ReconnectMax)
	offset := 0
	open := false

	b.logger.Info().Msg("Starting Telegram bot")

	for {
		updates, err := b.poll(ctx, offset)
		if ctx.Err() != nil {
			if open {
				onConn(ConnEvent{Kind: Closed, Reason: "shutdown"})
			}
			b.logger.Info().Msg("Telegram bot stopped")
			return nil
		}

		if err != nil {
			if isUnauthorized(err) {
				onConn(ConnEvent{Kind: Closed, Reason: err.Error(), Reconnectable: false})
				return fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}

			wait := bo.Next()
			open = false
			onConn(ConnEvent{Kind: Closed, Reason: err.Error(), Reconnectable: true, RetryIn: wait})
			b.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Polling failed, reconnecting")

			select {
			case <-ctx.Done():
				b.logger.Info().Msg("Telegram bot stopped")
				return nil
			case <-time.After(wait):
			}
			continue
		}

		if !open {
			open = true
			bo.Reset()
			onConn(ConnEvent{Kind: Opened})
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}

			e, ok := ToEvent(update, b.self.ID, b.commands)
			if !ok {
				continue
			}

			if err := onEvent(ctx, e); err != nil {
				b.logger.Error().
					Err(err).
					Int("update_id", update.UpdateID).
					Str("conversation_id", e.ConversationID).
					Msg("Failed to handle update")
			}
		}
	}
}

// poll runs one long poll. The call itself cannot be cancelled, so it runs
// in its own goroutine and is abandoned when ctx ends.
func (b *Bot) poll(ctx context.Context, offset int) ([]tgbotapi.Update, error) {
	u := tgbotapi.NewUpdate(offset)
	u.Timeout = b.config.PollTimeout

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		updates, err := b.api.GetUpdates(u)
		ch <- result{updates, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.updates, r.err
	}
}

// Send delivers a text message to a chat, waiting for the send rate limit
func (b *Bot) Send(ctx context.Context, conversationID, text string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", conversationID, err)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}

	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	b.logger.Debug().
		Int64("chat_id", chatID).
		Msg("Message sent")

	return nil
}

func isUnauthorized(err error) bool {
	var perr *tgbotapi.Error
	if errors.As(err, &perr) {
		return perr.Code == http.StatusUnauthorized
	}
	return false
}
