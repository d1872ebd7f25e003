package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"petassist/internal/domain"
)

// Activity types understood by the webhook.
const (
	ActivityMessage            = "message"
	ActivityConversationUpdate = "conversationUpdate"

	deliveryExpectReplies = "expectReplies"
)

// Activity is the subset of a Bot Framework activity the assistant reads
// and writes.
type Activity struct {
	Type         string           `json:"type"`
	ID           string           `json:"id,omitempty"`
	Timestamp    string           `json:"timestamp,omitempty"`
	ServiceURL   string           `json:"serviceUrl,omitempty"`
	ChannelID    string           `json:"channelId,omitempty"`
	From         *domain.Account  `json:"from,omitempty"`
	Recipient    *domain.Account  `json:"recipient,omitempty"`
	Conversation *domain.Account  `json:"conversation,omitempty"`
	Text         string           `json:"text,omitempty"`
	TextFormat   string           `json:"textFormat,omitempty"`
	Summary      string           `json:"summary,omitempty"`
	ReplyToID    string           `json:"replyToId,omitempty"`
	DeliveryMode string           `json:"deliveryMode,omitempty"`
	MembersAdded []domain.Account `json:"membersAdded,omitempty"`
	Entities     []map[string]any `json:"entities,omitempty"`
	ChannelData  any              `json:"channelData,omitempty"`
	Properties   map[string]any   `json:"properties,omitempty"`
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Host         string
	Port         int
	Path         string        // activity endpoint (default: /api/messages)
	Secret       string        // HMAC secret for X-Signature-256, empty disables the check
	ServiceToken string        // bearer token for replies posted to serviceUrl
	ReplyTimeout time.Duration // how long an expectReplies request waits for the turn
	Metrics      http.Handler  // mounted at MetricsPath when set
	MetricsPath  string
	Client       *http.Client
	Logger       *slog.Logger
}

// Webhook accepts activities over HTTP. With deliveryMode expectReplies the
// replies come back in the response body; otherwise they are posted to the
// activity's serviceUrl.
type Webhook struct {
	host         string
	port         int
	path         string
	secret       string
	serviceToken string
	replyTimeout time.Duration
	metrics      http.Handler
	metricsPath  string
	client       *http.Client
	bus          domain.MessageBus
	logger       *slog.Logger
	server       *http.Server

	mu         sync.Mutex
	refs       map[string]conversationRef
	collectors map[string]*replyCollector // by inbound activity id
	pending    map[string]string          // conversation id to awaited activity id
}

// conversationRef is what a proactive reply needs to address a conversation.
type conversationRef struct {
	serviceURL   string
	channelID    string
	bot          *domain.Account
	user         *domain.Account
	conversation *domain.Account
}

type replyCollector struct {
	chatID  string
	replies []Activity
	done    chan string // receives the end-of-turn error text
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/api/messages"
	}
	if cfg.Port == 0 {
		cfg.Port = 3978
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 30 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Webhook{
		host:         cfg.Host,
		port:         cfg.Port,
		path:         cfg.Path,
		secret:       cfg.Secret,
		serviceToken: cfg.ServiceToken,
		replyTimeout: cfg.ReplyTimeout,
		metrics:      cfg.Metrics,
		metricsPath:  cfg.MetricsPath,
		client:       cfg.Client,
		logger:       cfg.Logger,
		refs:         make(map[string]conversationRef),
		collectors:   make(map[string]*replyCollector),
		pending:      make(map[string]string),
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Handler returns the HTTP routes served by the webhook.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleActivity)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write([]byte(`{"status":"ok"}`))
	})
	if w.metrics != nil {
		mux.Handle(w.metricsPath, w.metrics)
	}
	return mux
}

// Start serves the webhook until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus
	bus.OnOutbound(w.Name(), w.deliver)

	addr := net.JoinHostPort(w.host, strconv.Itoa(w.port))
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      w.replyTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", addr, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) Stop() error {
	if w.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}

// Send posts a proactive message to a conversation seen earlier.
func (w *Webhook) Send(ctx context.Context, chatID string, content string) error {
	return w.post(ctx, domain.OutboundMessage{Channel: w.Name(), ChatID: chatID, Content: content})
}

func (w *Webhook) handleActivity(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var act Activity
	if err := json.Unmarshal(body, &act); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if act.Conversation == nil || act.Conversation.ID == "" {
		http.Error(rw, "conversation.id is required", http.StatusBadRequest)
		return
	}

	in, ok, err := inboundFromActivity(act)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		w.logger.Debug("activity ignored", "type", act.Type, "conversation", act.Conversation.ID)
		rw.WriteHeader(http.StatusOK)
		return
	}

	w.remember(act)
	w.logger.Info("activity received",
		"type", act.Type,
		"conversation", in.ChatID,
		"from", in.SenderID,
		"text_len", len(in.Content),
		"delivery", act.DeliveryMode,
	)

	if act.DeliveryMode != deliveryExpectReplies {
		w.bus.Publish(in)
		writeJSON(rw, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	col, err := w.collect(in.ChatID, in.ID)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusConflict)
		return
	}
	defer w.release(in.ChatID, in.ID)

	w.bus.Publish(in)

	timer := time.NewTimer(w.replyTimeout)
	defer timer.Stop()
	select {
	case turnErr := <-col.done:
		w.mu.Lock()
		replies := col.replies
		w.mu.Unlock()
		if turnErr != "" {
			w.logger.Warn("turn ended without reply", "conversation", in.ChatID, "error", turnErr)
		}
		if replies == nil {
			replies = []Activity{}
		}
		writeJSON(rw, http.StatusOK, map[string]any{"activities": replies})
	case <-timer.C:
		http.Error(rw, "timed out waiting for reply", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

// inboundFromActivity maps an activity to a bus message. ok is false for
// activity types the assistant does not act on.
func inboundFromActivity(act Activity) (domain.InboundMessage, bool, error) {
	in := domain.InboundMessage{
		ID:      act.ID,
		Channel: "webhook",
		ChatID:  act.Conversation.ID,
		Meta: &domain.ActivityMeta{
			Entities:     act.Entities,
			ChannelData:  act.ChannelData,
			Properties:   act.Properties,
			Summary:      act.Summary,
			Recipient:    act.Recipient,
			Conversation: act.Conversation,
			From:         act.From,
		},
		Timestamp: time.Now(),
	}
	if act.From != nil {
		in.SenderID = act.From.ID
	}
	if act.Recipient != nil {
		in.RecipientID = act.Recipient.ID
	}
	if ts, err := time.Parse(time.RFC3339, act.Timestamp); err == nil {
		in.Timestamp = ts
	}

	switch act.Type {
	case ActivityMessage:
		if strings.TrimSpace(act.Text) == "" {
			return in, false, errors.New("text is required")
		}
		in.Kind = domain.KindMessage
		in.Content = act.Text
		return in, true, nil
	case ActivityConversationUpdate:
		if len(act.MembersAdded) == 0 {
			return in, false, nil
		}
		in.Kind = domain.KindMembersAdded
		for _, m := range act.MembersAdded {
			in.MembersAdded = append(in.MembersAdded, m.ID)
		}
		return in, true, nil
	default:
		return in, false, nil
	}
}

func (w *Webhook) remember(act Activity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ref := w.refs[act.Conversation.ID]
	if act.ServiceURL != "" {
		ref.serviceURL = act.ServiceURL
	}
	ref.channelID = act.ChannelID
	ref.bot = act.Recipient
	ref.user = act.From
	ref.conversation = act.Conversation
	w.refs[act.Conversation.ID] = ref
}

// collect registers a collector for the replies to activity id. Only one
// expectReplies turn may be awaited per conversation.
func (w *Webhook) collect(chatID, id string) (*replyCollector, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.pending[chatID]; busy {
		return nil, fmt.Errorf("conversation %s already has a turn awaiting replies", chatID)
	}
	col := &replyCollector{chatID: chatID, done: make(chan string, 1)}
	w.collectors[id] = col
	w.pending[chatID] = id
	return col, nil
}

func (w *Webhook) release(chatID, id string) {
	w.mu.Lock()
	delete(w.collectors, id)
	if w.pending[chatID] == id {
		delete(w.pending, chatID)
	}
	w.mu.Unlock()
}

// deliver routes loop output either to the expectReplies request of the
// activity it answers or to the conversation's serviceUrl. Output of a turn
// whose request already gave up goes to the serviceUrl.
func (w *Webhook) deliver(msg domain.OutboundMessage) {
	w.mu.Lock()
	col, waiting := w.collectors[msg.ReplyToID]
	if waiting && msg.ReplyToID != "" && col.chatID == msg.ChatID {
		if msg.EndOfTurn {
			select {
			case col.done <- msg.Error:
			default:
			}
		} else {
			col.replies = append(col.replies, w.replyActivity(msg))
		}
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	if msg.EndOfTurn {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := w.post(ctx, msg); err != nil {
		w.logger.Warn("webhook reply not delivered", "conversation", msg.ChatID, "error", err)
	}
}

// replyActivity builds the reply for msg. Callers hold w.mu.
func (w *Webhook) replyActivity(msg domain.OutboundMessage) Activity {
	ref := w.refs[msg.ChatID]
	return Activity{
		Type:         ActivityMessage,
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		ChannelID:    ref.channelID,
		From:         ref.bot,
		Recipient:    ref.user,
		Conversation: ref.conversation,
		Text:         msg.Content,
		TextFormat:   "plain",
		ReplyToID:    msg.ReplyToID,
	}
}

func (w *Webhook) post(ctx context.Context, msg domain.OutboundMessage) error {
	w.mu.Lock()
	ref, ok := w.refs[msg.ChatID]
	act := w.replyActivity(msg)
	w.mu.Unlock()
	if !ok || ref.serviceURL == "" {
		return fmt.Errorf("no serviceUrl known for conversation %s", msg.ChatID)
	}

	endpoint := strings.TrimSuffix(ref.serviceURL, "/") +
		"/v3/conversations/" + url.PathEscape(msg.ChatID) + "/activities"
	if msg.ReplyToID != "" {
		endpoint += "/" + url.PathEscape(msg.ReplyToID)
	}

	body, err := json.Marshal(act)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.serviceToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post reply: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// verifyHMAC checks a "sha256=<hex>" signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
