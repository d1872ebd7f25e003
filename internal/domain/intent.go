package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownLabel is returned when a classification label is outside the closed set.
	ErrUnknownLabel = errors.New("unknown classification label")
	// ErrNoSession is returned by commerce calls made without a session.
	ErrNoSession = errors.New("no commerce session")
)

// Label is the intent assigned to a user message.
type Label int

const (
	LabelUpdateCart Label = iota + 1
	LabelViewCart
	LabelPlaceOrder
	LabelSearchProducts
	LabelOther
)

// Labels lists every label in declaration order.
var Labels = []Label{LabelUpdateCart, LabelViewCart, LabelPlaceOrder, LabelSearchProducts, LabelOther}

func (l Label) String() string {
	switch l {
	case LabelUpdateCart:
		return "UPDATE_CART"
	case LabelViewCart:
		return "VIEW_CART"
	case LabelPlaceOrder:
		return "PLACE_ORDER"
	case LabelSearchProducts:
		return "SEARCH_PRODUCTS"
	case LabelOther:
		return "OTHER"
	default:
		return fmt.Sprintf("Label(%d)", int(l))
	}
}

// Valid reports whether l is one of the five known labels.
func (l Label) Valid() bool {
	return l >= LabelUpdateCart && l <= LabelOther
}

// legacy spellings emitted by older prompts and the store frontend
var labelAliases = map[string]Label{
	"UPDATE_CART":          LabelUpdateCart,
	"UPDATE_SHOPPING_CART": LabelUpdateCart,
	"VIEW_CART":            LabelViewCart,
	"VIEW_SHOPPING_CART":   LabelViewCart,
	"PLACE_ORDER":          LabelPlaceOrder,
	"SEARCH_PRODUCTS":      LabelSearchProducts,
	"SEARCH_FOR_PRODUCTS":  LabelSearchProducts,
	"OTHER":                LabelOther,
	"SOMETHING_ELSE":       LabelOther,
}

// ParseLabel maps a label name (case-insensitive, spaces or dashes allowed) to a Label.
func ParseLabel(s string) (Label, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if l, ok := labelAliases[key]; ok {
		return l, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, s)
}

// ClassificationResult is what the classifier, completion and commerce
// collaborators all return: a label, candidate products and reply text.
type ClassificationResult struct {
	Label      Label
	ProductIDs []string
	Response   string
}

// SessionInfo identifies the user's store session. It lives for one turn.
type SessionInfo struct {
	SessionID string
	CSRFToken string
	Text      string // message text with the session marker removed
}

// Product is a catalog entry the assistant can recommend or add to a cart.
type Product struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Category    string  `yaml:"category" json:"category"`
	Description string  `yaml:"description" json:"description"`
	Price       float64 `yaml:"price" json:"price"`
}

// IntentClassifier assigns a label and a default reply to raw text.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (ClassificationResult, error)
}

// CompletionClient generates a reply for text under a given label.
type CompletionClient interface {
	Complete(ctx context.Context, text string, label Label) (ClassificationResult, error)
}

// CommerceClient mutates the user's remote shopping cart.
type CommerceClient interface {
	UpdateCart(ctx context.Context, session SessionInfo, productID string) (ClassificationResult, error)
}
