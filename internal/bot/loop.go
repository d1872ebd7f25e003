// Package bot hosts the dispatcher on the message bus. It owns concurrency,
// per-conversation ordering, rate limiting and the end-of-turn protocol that
// channels rely on to know a turn is over.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"petassist/internal/bus"
	"petassist/internal/dispatch"
	"petassist/internal/domain"
	"petassist/internal/metrics"
)

const (
	defaultConcurrency = 5
	defaultRateBurst   = 5
)

// Dispatcher answers one chat message.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw string) (dispatch.Outcome, error)
}

// Loop consumes inbound messages and answers each one.
type Loop struct {
	bus         domain.MessageBus
	events      *bus.EventBus
	dispatcher  Dispatcher
	greeter     *dispatch.Greeter
	diagnostics *dispatch.Diagnostics
	limits      *senderLimits
	chats       *chatQueue
	logger      *slog.Logger
	concurrency int
}

type LoopConfig struct {
	Bus         domain.MessageBus
	Events      *bus.EventBus // optional
	Dispatcher  Dispatcher
	Greeter     *dispatch.Greeter
	Diagnostics *dispatch.Diagnostics // nil disables the metadata log
	Logger      *slog.Logger

	Concurrency   int // max turns in flight across conversations
	RateBurst     int
	RatePerMinute float64 // per sender, 0 disables limiting
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Greeter == nil {
		cfg.Greeter = dispatch.NewGreeter("")
	}
	var limits *senderLimits
	if cfg.RatePerMinute > 0 {
		limits = newSenderLimits(cfg.RateBurst, cfg.RatePerMinute)
	}
	return &Loop{
		bus:         cfg.Bus,
		events:      cfg.Events,
		dispatcher:  cfg.Dispatcher,
		greeter:     cfg.Greeter,
		diagnostics: cfg.Diagnostics,
		limits:      limits,
		chats:       newChatQueue(),
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run processes inbound messages until ctx is cancelled or the bus closes.
// It returns after every started turn has finished.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("assistant loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("assistant loop stopped")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("bus closed, assistant loop stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			// The ticket is taken here, in arrival order, so turns of one
			// conversation run in the order they were published.
			wait, done := l.chats.enter(msg.Channel + ":" + msg.ChatID)
			wg.Add(1)
			go func(m domain.InboundMessage) {
				defer func() { done(); <-sem; wg.Done() }()
				<-wait
				if ctx.Err() != nil {
					return
				}
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// ProcessDirect answers one message synchronously, bypassing the bus.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) (string, error) {
	msg := domain.InboundMessage{
		Kind:      domain.KindMessage,
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  "direct",
		Content:   content,
		Timestamp: time.Now(),
	}
	rec, out, err := l.runTurn(ctx, msg)
	l.finish(rec, out, err)
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	if l.diagnostics != nil {
		l.diagnostics.Log(msg)
	}

	switch msg.Kind {
	case domain.KindMembersAdded:
		l.greet(ctx, msg)
		l.endTurn(msg, "")
	case domain.KindMessage:
		rec, out, err := l.runTurn(ctx, msg)
		switch {
		case err != nil:
		case out.Reply == "":
			l.logger.Warn("empty reply not sent", "turn", rec.TurnID, "label", rec.Label, "branch", rec.Branch)
		default:
			l.send(domain.OutboundMessage{
				Channel:   msg.Channel,
				ChatID:    msg.ChatID,
				Content:   out.Reply,
				Format:    "text",
				ReplyToID: msg.ID,
			})
		}
		l.finish(rec, out, err)
		l.endTurn(msg, rec.Error)
	default:
		l.logger.Debug("ignoring activity", "kind", msg.Kind, "channel", msg.Channel)
		l.endTurn(msg, "")
	}
}

// runTurn rate limits the sender and runs the dispatcher.
func (l *Loop) runTurn(ctx context.Context, msg domain.InboundMessage) (domain.TurnRecord, dispatch.Outcome, error) {
	rec := domain.TurnRecord{
		TurnID:   uuid.NewString(),
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		SenderID: msg.SenderID,
		Kind:     msg.Kind,
		At:       time.Now(),
	}

	if l.limits != nil {
		throttled, err := l.limits.get(msg.Channel + ":" + msg.SenderID).Wait(ctx)
		if throttled {
			metrics.RateLimited.Inc()
		}
		if err != nil {
			err = fmt.Errorf("rate limit: %w", err)
			rec.Error = err.Error()
			return rec, dispatch.Outcome{}, err
		}
	}

	metrics.InFlightTurns.Inc()
	defer metrics.InFlightTurns.Dec()

	start := time.Now()
	out, err := l.dispatcher.Dispatch(ctx, msg.Content)
	elapsed := time.Since(start)
	rec.LatencyMs = elapsed.Milliseconds()
	metrics.TurnLatency.Observe(elapsed.Seconds())

	if err != nil {
		rec.Error = err.Error()
		return rec, out, err
	}
	rec.Label = out.Label.String()
	rec.Branch = string(out.Branch)
	rec.ProductID = out.ProductID
	return rec, out, nil
}

// finish records metrics, logs and emits the turn event.
func (l *Loop) finish(rec domain.TurnRecord, out dispatch.Outcome, err error) {
	if err != nil {
		metrics.TurnsFailed.Inc()
		l.logger.Error("turn failed",
			"turn", rec.TurnID, "channel", rec.Channel, "chat", rec.ChatID, "error", err)
		l.emit(bus.EventTurnFailed, rec)
		return
	}
	metrics.Turn(rec.Label, rec.Branch).Inc()
	l.logger.Info("turn completed",
		"turn", rec.TurnID,
		"channel", rec.Channel,
		"chat", rec.ChatID,
		"label", rec.Label,
		"branch", rec.Branch,
		"session", out.HasSession,
		"latency_ms", rec.LatencyMs,
	)
	l.emit(bus.EventTurnCompleted, rec)
}

// greet sends one welcome per joined member. Sends run concurrently; the
// first failure is logged and does not stop the others.
func (l *Loop) greet(ctx context.Context, msg domain.InboundMessage) {
	greetings := l.greeter.Greet(msg.MembersAdded, msg.RecipientID)
	if len(greetings) == 0 {
		return
	}

	g, _ := errgroup.WithContext(ctx)
	for _, text := range greetings {
		g.Go(func() error {
			if err := l.bus.SendOutbound(domain.OutboundMessage{
				Channel:   msg.Channel,
				ChatID:    msg.ChatID,
				Content:   text,
				Format:    "text",
				ReplyToID: msg.ID,
			}); err != nil {
				return err
			}
			metrics.GreetingsSent.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.logger.Warn("greeting not delivered", "channel", msg.Channel, "chat", msg.ChatID, "error", err)
		return
	}

	if l.events != nil {
		l.events.Emit(bus.Event{
			Type:   bus.EventGreetingSent,
			Source: msg.Channel,
			Payload: map[string]any{
				"chat_id": msg.ChatID,
				"count":   len(greetings),
			},
		})
	}
}

func (l *Loop) endTurn(msg domain.InboundMessage, errText string) {
	l.send(domain.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		ReplyToID: msg.ID,
		EndOfTurn: true,
		Error:     errText,
	})
}

func (l *Loop) send(out domain.OutboundMessage) {
	if err := l.bus.SendOutbound(out); err != nil {
		if errors.Is(err, bus.ErrNoHandler) {
			l.logger.Debug("no outbound handler", "channel", out.Channel)
			return
		}
		l.logger.Warn("outbound send failed", "channel", out.Channel, "error", err)
	}
}

func (l *Loop) emit(eventType string, rec domain.TurnRecord) {
	if l.events == nil {
		return
	}
	l.events.Emit(bus.Event{Type: eventType, Source: rec.Channel, Turn: &rec})
}

// chatQueue orders turns within one conversation. Each turn waits for the
// one enqueued before it for the same key.
type chatQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newChatQueue() *chatQueue {
	return &chatQueue{tails: make(map[string]chan struct{})}
}

// enter takes the next place for key. The returned channel is closed once
// every earlier turn for key has called its done func.
func (q *chatQueue) enter(key string) (<-chan struct{}, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev, ok := q.tails[key]
	if !ok {
		prev = make(chan struct{})
		close(prev)
	}
	mine := make(chan struct{})
	q.tails[key] = mine

	return prev, func() {
		close(mine)
		q.mu.Lock()
		if q.tails[key] == mine {
			delete(q.tails, key)
		}
		q.mu.Unlock()
	}
}
