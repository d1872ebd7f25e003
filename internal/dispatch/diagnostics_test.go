package dispatch

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"petassist/internal/domain"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestDiagnostics_NilMetaNeverPanics(t *testing.T) {
	logger, buf := captureLogger()
	d := NewDiagnostics(logger)

	assert.NotPanics(t, func() {
		d.Log(domain.InboundMessage{Channel: "cli", RecipientID: "bot"})
	})

	out := buf.String()
	assert.Contains(t, out, "found recipient id")
	for _, name := range []string{"entities", "channel data", "properties", "summary",
		"recipient properties", "conversation properties", "sender properties"} {
		assert.Contains(t, out, "could not get "+name)
	}
}

func TestDiagnostics_FullMeta(t *testing.T) {
	logger, buf := captureLogger()
	d := NewDiagnostics(logger)

	d.Log(domain.InboundMessage{
		Channel:     "webhook",
		RecipientID: "bot",
		Meta: &domain.ActivityMeta{
			Entities:     []map[string]any{{"type": "clientInfo"}},
			ChannelData:  map[string]any{"tenant": "t1"},
			Properties:   map[string]any{"b": 2, "a": 1},
			Summary:      "a summary",
			Recipient:    &domain.Account{ID: "bot", Properties: map[string]any{"role": "bot"}},
			Conversation: &domain.Account{ID: "c1", Properties: map[string]any{"isGroup": false}},
			From:         &domain.Account{ID: "u1", Properties: map[string]any{"role": "user"}},
		},
	})

	out := buf.String()
	assert.NotContains(t, out, "could not get")
	assert.Equal(t, 8, strings.Count(out, "found "))
}

func TestDiagnostics_ProbesAreIsolated(t *testing.T) {
	logger, buf := captureLogger()
	var ran []string
	d := &Diagnostics{logger: logger, probes: []Probe{
		{Name: "first", Read: func(domain.InboundMessage) (any, error) {
			ran = append(ran, "first")
			panic("boom")
		}},
		{Name: "second", Read: func(domain.InboundMessage) (any, error) {
			ran = append(ran, "second")
			return nil, errors.New("type mismatch")
		}},
		{Name: "third", Read: func(domain.InboundMessage) (any, error) {
			ran = append(ran, "third")
			return "ok", nil
		}},
	}}

	assert.NotPanics(t, func() { d.Log(domain.InboundMessage{}) })
	assert.Equal(t, []string{"first", "second", "third"}, ran)
	assert.Contains(t, buf.String(), "could not get first")
	assert.Contains(t, buf.String(), "probe panicked: boom")
	assert.Contains(t, buf.String(), "could not get second")
	assert.Contains(t, buf.String(), "found third")
}

func TestDiagnostics_PropertiesSorted(t *testing.T) {
	v, err := properties(map[string]any{"z": 1, "a": "x"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"a x", "z 1"}, v)

	_, err = properties(nil)
	assert.Error(t, err)
}
