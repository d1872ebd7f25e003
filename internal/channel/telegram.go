package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"petassist/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel over the Bot API with long polling.
type Telegram struct {
	token     string
	allowFrom []int64 // empty allows everyone
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user ids as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound(t.Name(), func(msg domain.OutboundMessage) {
		if msg.EndOfTurn || msg.Content == "" {
			return
		}
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op. Polling ends when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram not started")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	if !t.isAllowed(m.From.ID) {
		t.logger.Warn("unauthorized telegram user", "user_id", m.From.ID, "username", m.From.UserName)
		return
	}

	if m.IsCommand() && m.Command() == "help" {
		t.sendMessage(m.Chat.ID, "Ask me about our products, your shopping cart, your order, or pets in general.")
		return
	}

	in, ok := telegramInbound(m, t.bot.Self.ID)
	if !ok {
		return
	}
	if in.Kind == domain.KindMessage {
		_, _ = t.bot.Send(tgbotapi.NewChatAction(m.Chat.ID, tgbotapi.ChatTyping))
	}
	t.logger.Info("telegram activity received", "kind", in.Kind, "chat_id", in.ChatID, "text_len", len(in.Content))
	t.bus.Publish(in)
}

// telegramInbound maps a Telegram message to a bus message. New chat
// members and /start become a members-added activity; plain text becomes a
// chat message.
func telegramInbound(m *tgbotapi.Message, botID int64) (domain.InboundMessage, bool) {
	in := domain.InboundMessage{
		ID:          strconv.Itoa(m.MessageID),
		Channel:     "telegram",
		ChatID:      strconv.FormatInt(m.Chat.ID, 10),
		SenderID:    strconv.FormatInt(m.From.ID, 10),
		RecipientID: strconv.FormatInt(botID, 10),
		Timestamp:   time.Unix(int64(m.Date), 0),
		Meta: &domain.ActivityMeta{
			From:         &domain.Account{ID: strconv.FormatInt(m.From.ID, 10), Name: m.From.UserName},
			Recipient:    &domain.Account{ID: strconv.FormatInt(botID, 10)},
			Conversation: &domain.Account{ID: strconv.FormatInt(m.Chat.ID, 10), Name: m.Chat.Title},
		},
	}

	if len(m.NewChatMembers) > 0 {
		in.Kind = domain.KindMembersAdded
		for _, u := range m.NewChatMembers {
			in.MembersAdded = append(in.MembersAdded, strconv.FormatInt(u.ID, 10))
		}
		return in, true
	}
	if m.IsCommand() {
		if m.Command() != "start" {
			return in, false
		}
		in.Kind = domain.KindMembersAdded
		in.MembersAdded = []string{in.SenderID}
		return in, true
	}

	text := strings.TrimSpace(m.Text)
	if text == "" {
		return in, false
	}
	in.Kind = domain.KindMessage
	in.Content = text
	return in, true
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one chunk, falling back to plain text on a parse error
// and backing off on rate limits.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			time.Sleep(retryAfter)
			continue
		}
		if msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram parse error, retrying as plain text", "err", err, "parseMode", t.parseMode)
			continue
		}
		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
