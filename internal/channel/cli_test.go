package channel

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"petassist/internal/bus"
	"petassist/internal/domain"
)

func TestCLI_GreetsThenRepliesPerLine(t *testing.T) {
	b := bus.New(8, testLogger())
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{
		Logger: testLogger(),
		In:     strings.NewReader("hello\n\nis a beagle friendly\n/quit\nignored\n"),
		Out:    &out,
		User:   "tester",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for m := range b.Subscribe() {
			if m.Kind == domain.KindMembersAdded {
				_ = b.SendOutbound(domain.OutboundMessage{Channel: m.Channel, ChatID: m.ChatID, Content: "welcome " + m.MembersAdded[0]})
			} else {
				_ = b.SendOutbound(domain.OutboundMessage{Channel: m.Channel, ChatID: m.ChatID, Content: "re: " + m.Content})
			}
			_ = b.SendOutbound(domain.OutboundMessage{Channel: m.Channel, ChatID: m.ChatID, EndOfTurn: true})
		}
	}()

	require.NoError(t, cli.Start(ctx, b))
	b.Close()

	text := out.String()
	assert.Contains(t, text, "Assistant> welcome tester")
	assert.Contains(t, text, "Assistant> re: hello")
	assert.Contains(t, text, "Assistant> re: is a beagle friendly")
	assert.NotContains(t, text, "ignored")
	assert.Less(t, strings.Index(text, "welcome"), strings.Index(text, "re: hello"))
}

func TestCLI_FailedTurnPrintsNotice(t *testing.T) {
	b := bus.New(8, testLogger())
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader("x\n"), Out: &out})

	go func() {
		for m := range b.Subscribe() {
			errText := ""
			if m.Kind == domain.KindMessage {
				errText = "classify: down"
			}
			_ = b.SendOutbound(domain.OutboundMessage{Channel: m.Channel, ChatID: m.ChatID, EndOfTurn: true, Error: errText})
		}
	}()

	require.NoError(t, cli.Start(context.Background(), b))
	b.Close()
	assert.Contains(t, out.String(), "(no reply")
}

func TestCLI_StopsOnCancel(t *testing.T) {
	b := bus.New(8, testLogger())
	defer b.Close()
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader(""), Out: &bytes.Buffer{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, cli.Start(ctx, b), "no loop answers the greeting, cancel must unblock")
}
