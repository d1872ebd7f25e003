package channel

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petassist/internal/domain"
)

func tgMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: -100, Title: "pets"},
		Date:      1700000000,
		Text:      text,
	}
}

func TestTelegramInbound_Text(t *testing.T) {
	in, ok := telegramInbound(tgMessage("  do you have cat toys  "), 999)
	require.True(t, ok)
	assert.Equal(t, domain.KindMessage, in.Kind)
	assert.Equal(t, "do you have cat toys", in.Content)
	assert.Equal(t, "-100", in.ChatID)
	assert.Equal(t, "42", in.SenderID)
	assert.Equal(t, "999", in.RecipientID)
	assert.Equal(t, "7", in.ID)
	assert.Equal(t, "alice", in.Meta.From.Name)
}

func TestTelegramInbound_NewMembers(t *testing.T) {
	m := tgMessage("")
	m.NewChatMembers = []tgbotapi.User{{ID: 999}, {ID: 5}}

	in, ok := telegramInbound(m, 999)
	require.True(t, ok)
	assert.Equal(t, domain.KindMembersAdded, in.Kind)
	assert.Equal(t, []string{"999", "5"}, in.MembersAdded)
}

func commandMessage(cmd string) *tgbotapi.Message {
	m := tgMessage(cmd)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	return m
}

func TestTelegramInbound_StartGreetsSender(t *testing.T) {
	in, ok := telegramInbound(commandMessage("/start"), 999)
	require.True(t, ok)
	assert.Equal(t, domain.KindMembersAdded, in.Kind)
	assert.Equal(t, []string{"42"}, in.MembersAdded)
}

func TestTelegramInbound_Ignored(t *testing.T) {
	_, ok := telegramInbound(tgMessage("   "), 1)
	assert.False(t, ok)

	_, ok = telegramInbound(commandMessage("/settings"), 1)
	assert.False(t, ok)
}

func TestTelegram_AllowList(t *testing.T) {
	open := NewTelegram(TelegramConfig{Logger: testLogger()})
	assert.True(t, open.isAllowed(1))

	locked := NewTelegram(TelegramConfig{AllowFrom: []string{"42", " 7 ", "bad"}, Logger: testLogger()})
	assert.True(t, locked.isAllowed(42))
	assert.True(t, locked.isAllowed(7))
	assert.False(t, locked.isAllowed(8))
}
