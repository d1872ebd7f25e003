package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"petassist/internal/domain"
)

var errAbsent = errors.New("not present")

// Probe reads one piece of activity metadata for the operator log.
type Probe struct {
	Name string
	Read func(msg domain.InboundMessage) (any, error)
}

// Diagnostics logs whatever activity metadata a channel delivered.
// Each probe runs on its own: a failing or panicking probe is logged and the
// next one still runs. Log never fails.
type Diagnostics struct {
	probes []Probe
	logger *slog.Logger
}

func NewDiagnostics(logger *slog.Logger) *Diagnostics {
	return &Diagnostics{probes: DefaultProbes(), logger: logger}
}

// DefaultProbes returns the probes in the order they are run.
func DefaultProbes() []Probe {
	return []Probe{
		{Name: "recipient id", Read: func(msg domain.InboundMessage) (any, error) {
			if msg.RecipientID == "" {
				return nil, errAbsent
			}
			return msg.RecipientID, nil
		}},
		{Name: "entities", Read: func(msg domain.InboundMessage) (any, error) {
			if msg.Meta.Entities == nil {
				return nil, errAbsent
			}
			return msg.Meta.Entities, nil
		}},
		{Name: "channel data", Read: func(msg domain.InboundMessage) (any, error) {
			if msg.Meta.ChannelData == nil {
				return nil, errAbsent
			}
			return msg.Meta.ChannelData, nil
		}},
		{Name: "properties", Read: func(msg domain.InboundMessage) (any, error) {
			return properties(msg.Meta.Properties)
		}},
		{Name: "summary", Read: func(msg domain.InboundMessage) (any, error) {
			if msg.Meta.Summary == "" {
				return nil, errAbsent
			}
			return msg.Meta.Summary, nil
		}},
		{Name: "recipient properties", Read: func(msg domain.InboundMessage) (any, error) {
			return properties(msg.Meta.Recipient.Properties)
		}},
		{Name: "conversation properties", Read: func(msg domain.InboundMessage) (any, error) {
			return properties(msg.Meta.Conversation.Properties)
		}},
		{Name: "sender properties", Read: func(msg domain.InboundMessage) (any, error) {
			return properties(msg.Meta.From.Properties)
		}},
	}
}

// Log runs every probe against msg.
func (d *Diagnostics) Log(msg domain.InboundMessage) {
	for _, p := range d.probes {
		_ = d.run(p, msg)
	}
}

// run is the isolation boundary for a single probe.
func (d *Diagnostics) run(p Probe, msg domain.InboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
		if err != nil {
			d.logger.Debug("could not get "+p.Name, "channel", msg.Channel, "reason", err.Error())
		}
	}()

	v, err := p.Read(msg)
	if err != nil {
		return err
	}
	d.logger.Debug("found "+p.Name, "channel", msg.Channel, "type", fmt.Sprintf("%T", v), "value", v)
	return nil
}

// properties returns map entries as sorted "key value" lines.
func properties(m map[string]any) (any, error) {
	if m == nil {
		return nil, errAbsent
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("%s %v", k, m[k])
	}
	return lines, nil
}
