package domain

import "time"

// MessageKind distinguishes chat text from membership changes.
type MessageKind string

const (
	KindMessage      MessageKind = "message"
	KindMembersAdded MessageKind = "membersAdded"
)

type InboundMessage struct {
	ID           string // channel-assigned message id, may be empty
	Kind         MessageKind
	Channel      string
	ChatID       string
	SenderID     string
	RecipientID  string   // the bot's own identity on this channel
	Content      string
	MembersAdded []string // participant ids, only for KindMembersAdded
	Meta         *ActivityMeta
	Timestamp    time.Time
}

// ActivityMeta is channel metadata carried along for diagnostics only.
// Any field may be absent; nothing in dispatch reads it.
type ActivityMeta struct {
	Entities     []map[string]any
	ChannelData  any
	Properties   map[string]any
	Summary      string
	Recipient    *Account
	Conversation *Account
	From         *Account
}

type Account struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

type OutboundMessage struct {
	Channel   string
	ChatID    string
	Content   string
	Format    string // text | markdown
	ReplyToID string
	EndOfTurn bool   // marker sent after every turn; carries no content
	Error     string // set on the end-of-turn marker of a failed turn
}

// TurnRecord summarizes one finished turn for events and the audit log.
type TurnRecord struct {
	TurnID    string
	Channel   string
	ChatID    string
	SenderID  string
	Kind      MessageKind
	Label     string
	Branch    string
	ProductID string
	LatencyMs int64
	Error     string
	At        time.Time
}
