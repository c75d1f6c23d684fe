// Package telegram delivers alert notifications through the Telegram Bot API
// and answers a small set of bot commands.
//
// Delivery never fails the caller: errors are logged and reported as false.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/warometer/internal/detector"
	"github.com/rewired-gh/warometer/internal/logger"
)

// ErrNotConfigured is returned when the bot token or chat ID is missing.
var ErrNotConfigured = errors.New("telegram bot token or chat ID not configured")

// Config holds the Telegram delivery settings.
type Config struct {
	BotToken       string
	ChatID         string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	// Endpoint overrides tgbotapi.APIEndpoint, e.g. for a local Bot API server.
	Endpoint string
	// CommandPollTimeout is the getUpdates long-poll duration used by
	// ListenForCommands.
	CommandPollTimeout time.Duration
}

// Client handles Telegram notifications. The underlying bot is created on
// first use so a client without credentials never touches the network.
type Client struct {
	config     Config
	httpClient *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewClient creates a new Telegram client.
func NewClient(cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.CommandPollTimeout < time.Second {
		cfg.CommandPollTimeout = 60 * time.Second
	}
	setBotLogger.Do(func() { _ = tgbotapi.SetLogger(botLogger{}) })

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether both bot token and chat ID are set.
func (c *Client) Configured() bool {
	return c.config.BotToken != "" && c.config.ChatID != ""
}

func (c *Client) botAPI() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bot != nil {
		return c.bot, nil
	}
	if c.config.BotToken == "" {
		return nil, ErrNotConfigured
	}

	bot, err := tgbotapi.NewBotAPIWithClient(c.config.BotToken, c.config.Endpoint, c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	c.bot = bot
	return bot, nil
}

// newMessage addresses text to the configured chat: a numeric chat ID or an
// @channel username.
func (c *Client) newMessage(text string) (tgbotapi.MessageConfig, error) {
	chatID := strings.TrimSpace(c.config.ChatID)
	if strings.HasPrefix(chatID, "@") {
		return tgbotapi.NewMessageToChannel(chatID, text), nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	return tgbotapi.NewMessage(id, text), nil
}

// Send delivers text with linear-backoff retry. parseMode may be empty for
// plain text.
func (c *Client) Send(ctx context.Context, text, parseMode string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	msg, err := c.newMessage(text)
	if err != nil {
		return err
	}
	msg.ParseMode = parseMode

	var lastErr error
	for i := 0; i < c.config.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelayBase * time.Duration(i)):
			}
		}

		bot, err := c.botAPI()
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := bot.Send(msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d retries: %w", c.config.MaxRetries, lastErr)
}

// Deliver sends a plain-text message and reports whether it was accepted.
func (c *Client) Deliver(ctx context.Context, text string) bool {
	return c.deliver(ctx, text, "")
}

// DeliverMarkdown sends a MarkdownV2 message and reports whether it was accepted.
func (c *Client) DeliverMarkdown(ctx context.Context, text string) bool {
	return c.deliver(ctx, text, tgbotapi.ModeMarkdownV2)
}

func (c *Client) deliver(ctx context.Context, text, parseMode string) bool {
	if err := c.Send(ctx, text, parseMode); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			logger.Warn("Telegram not configured, message not sent")
		} else {
			logger.Error("Failed to send Telegram message: %v", err)
		}
		return false
	}
	logger.Info("Message sent to chat %s", c.config.ChatID)
	return true
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(ctx context.Context, cycleErr error) bool {
	return c.DeliverMarkdown(ctx, FormatError(cycleErr))
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(ctx context.Context, failureCount int) bool {
	return c.DeliverMarkdown(ctx, FormatRecovery(failureCount))
}

// StatusProvider exposes the detector state for the /status command.
type StatusProvider interface {
	Status() detector.Status
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
//
// Updates are long-polled by a separate bot whose HTTP timeout exceeds the poll
// duration; replies go through the regular client.
func (c *Client) ListenForCommands(ctx context.Context, status StatusProvider) error {
	bot, err := c.botAPI()
	if err != nil {
		return err
	}

	pollClient := &http.Client{Timeout: c.config.CommandPollTimeout + c.config.Timeout}
	poller, err := tgbotapi.NewBotAPIWithClient(c.config.BotToken, c.config.Endpoint, pollClient)
	if err != nil {
		return fmt.Errorf("failed to create Telegram update poller: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(c.config.CommandPollTimeout / time.Second)
	updates := poller.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				poller.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(bot, update.Message, status)
				}
			}
		}
	}()
	return nil
}

func (c *Client) handleCommand(bot *tgbotapi.BotAPI, msg *tgbotapi.Message, status StatusProvider) {
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Pong")
	case "status":
		if !c.isConfiguredChat(msg.Chat) {
			logger.Warn("Ignoring /status from unconfigured chat %d", msg.Chat.ID)
			return
		}
		reply = tgbotapi.NewMessage(msg.Chat.ID, FormatStatus(status.Status()))
		reply.ParseMode = tgbotapi.ModeMarkdownV2
	default:
		return
	}
	if _, err := bot.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// isConfiguredChat matches chat against the configured numeric ID or @channel name.
func (c *Client) isConfiguredChat(chat *tgbotapi.Chat) bool {
	if chat == nil {
		return false
	}
	chatID := strings.TrimSpace(c.config.ChatID)
	if name, ok := strings.CutPrefix(chatID, "@"); ok {
		return chat.UserName != "" && strings.EqualFold(chat.UserName, name)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	return err == nil && id == chat.ID
}

// Chat is a chat the bot has recently seen.
type Chat struct {
	ID       int64
	Type     string
	Name     string
	Username string
}

// RecentChats lists the distinct chats in the bot's pending updates, in the
// order they first appear. Only the bot token is required.
func (c *Client) RecentChats(ctx context.Context) ([]Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bot, err := c.botAPI()
	if err != nil {
		return nil, err
	}

	updates, err := bot.GetUpdates(tgbotapi.UpdateConfig{Limit: 100})
	if err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}

	seen := make(map[int64]bool)
	var chats []Chat
	for _, update := range updates {
		var chat *tgbotapi.Chat
		switch {
		case update.Message != nil:
			chat = update.Message.Chat
		case update.ChannelPost != nil:
			chat = update.ChannelPost.Chat
		}
		if chat == nil || chat.ID == 0 || seen[chat.ID] {
			continue
		}
		seen[chat.ID] = true

		name := chat.FirstName
		if name == "" {
			name = chat.Title
		}
		chats = append(chats, Chat{
			ID:       chat.ID,
			Type:     chat.Type,
			Name:     name,
			Username: chat.UserName,
		})
	}
	return chats, nil
}

var setBotLogger sync.Once

// botLogger routes tgbotapi's internal messages into the application logger.
type botLogger struct{}

func (botLogger) Println(v ...interface{}) {
	logger.Warn("telegram: %s", strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func (botLogger) Printf(format string, v ...interface{}) {
	logger.Warn("telegram: %s", fmt.Sprintf(format, v...))
}
