package domain

import (
	"errors"
	"testing"
)

func TestParseLabel_CanonicalNames(t *testing.T) {
	for _, l := range Labels {
		got, err := ParseLabel(l.String())
		if err != nil {
			t.Fatalf("ParseLabel(%q): %v", l.String(), err)
		}
		if got != l {
			t.Errorf("ParseLabel(%q) = %v, want %v", l.String(), got, l)
		}
	}
}

func TestParseLabel_LegacyAndLoose(t *testing.T) {
	cases := map[string]Label{
		"update_shopping_cart": LabelUpdateCart,
		"View Shopping Cart":   LabelViewCart,
		" search-for-products": LabelSearchProducts,
		"something_else":       LabelOther,
		"place order":          LabelPlaceOrder,
	}
	for in, want := range cases {
		got, err := ParseLabel(in)
		if err != nil {
			t.Fatalf("ParseLabel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLabel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseLabel_Unknown(t *testing.T) {
	_, err := ParseLabel("CANCEL_ORDER")
	if !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
}

func TestLabel_Valid(t *testing.T) {
	if Label(0).Valid() || Label(99).Valid() {
		t.Error("out-of-range labels should be invalid")
	}
	if Label(0).String() != "Label(0)" {
		t.Errorf("unexpected String for zero label: %s", Label(0).String())
	}
}
