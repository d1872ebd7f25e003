// Package dispatch turns one inbound chat message into one reply.
//
// A turn extracts the store session marker, classifies the text and then
// branches on the label. Depending on the branch the reply is a fixed
// placeholder, a language-model completion, or the result of a cart update.
// Each turn makes at most one completion call after classification and at
// most one commerce call. Nothing is retried and nothing outlives the turn.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"petassist/internal/domain"
	"petassist/internal/session"
)

// Fixed replies for the branches that need no collaborator.
const (
	ReplyNoSessionForCart = "Once I get your session information, I will be able to update your shopping cart."
	ReplyViewCart         = "Once I get your session information, I will be able to display your shopping cart."
	ReplyPlaceOrder       = "Once I get your session information, I will be able to place your order."
)

// Branch names how a turn was answered. Used for logs, metrics and audit.
type Branch string

const (
	BranchFixed      Branch = "fixed"
	BranchNoSession  Branch = "no_session"
	BranchCart       Branch = "cart"
	BranchUnresolved Branch = "unresolved" // session present but not exactly one product
	BranchCompletion Branch = "completion"
)

// Outcome describes a finished turn.
type Outcome struct {
	Label      domain.Label
	Branch     Branch
	HasSession bool
	ProductID  string // set when the cart was updated
	Reply      string
}

// Dispatcher routes a message to the right collaborator.
type Dispatcher struct {
	classifier domain.IntentClassifier
	completer  domain.CompletionClient
	commerce   domain.CommerceClient
	logger     *slog.Logger
}

type Config struct {
	Classifier domain.IntentClassifier
	Completer  domain.CompletionClient
	Commerce   domain.CommerceClient
	Logger     *slog.Logger
}

func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		classifier: cfg.Classifier,
		completer:  cfg.Completer,
		commerce:   cfg.Commerce,
		logger:     cfg.Logger,
	}
}

// Handle runs one turn and returns the reply text.
func (d *Dispatcher) Handle(ctx context.Context, raw string) (string, error) {
	out, err := d.Dispatch(ctx, raw)
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

// Dispatch runs one turn and reports how it was answered.
func (d *Dispatcher) Dispatch(ctx context.Context, raw string) (Outcome, error) {
	info, hasSession := session.Extract(raw)
	text := raw
	if hasSession {
		text = info.Text
	}
	text = strings.ToLower(text)

	result, err := d.classifier.Classify(ctx, text)
	if err != nil {
		return Outcome{}, fmt.Errorf("classify: %w", err)
	}
	if !result.Label.Valid() {
		return Outcome{}, fmt.Errorf("classify: %w: %v", domain.ErrUnknownLabel, result.Label)
	}

	out := Outcome{Label: result.Label, HasSession: hasSession, Reply: result.Response}

	switch result.Label {
	case domain.LabelUpdateCart:
		if !hasSession {
			out.Branch = BranchNoSession
			out.Reply = ReplyNoSessionForCart
			break
		}
		found, err := d.completer.Complete(ctx,
			"find the product that is associated with the following text: '"+text+"'",
			domain.LabelSearchProducts)
		if err != nil {
			return Outcome{}, fmt.Errorf("find product: %w", err)
		}
		if len(found.ProductIDs) != 1 {
			d.logger.Debug("cart update skipped, product not resolved",
				"candidates", len(found.ProductIDs))
			out.Branch = BranchUnresolved
			break
		}
		info.Text = text
		updated, err := d.commerce.UpdateCart(ctx, info, found.ProductIDs[0])
		if err != nil {
			return Outcome{}, fmt.Errorf("update cart: %w", err)
		}
		out.Branch = BranchCart
		out.ProductID = found.ProductIDs[0]
		out.Reply = updated.Response

	case domain.LabelViewCart:
		out.Branch = BranchFixed
		out.Reply = ReplyViewCart

	case domain.LabelPlaceOrder:
		out.Branch = BranchFixed
		out.Reply = ReplyPlaceOrder

	case domain.LabelSearchProducts, domain.LabelOther:
		completed, err := d.completer.Complete(ctx, text, result.Label)
		if err != nil {
			return Outcome{}, fmt.Errorf("complete %s: %w", result.Label, err)
		}
		out.Branch = BranchCompletion
		out.Reply = completed.Response
	}

	d.logger.Debug("turn dispatched",
		"label", out.Label.String(),
		"branch", string(out.Branch),
		"session", out.HasSession,
	)
	return out, nil
}
