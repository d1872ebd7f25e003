package browser

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheck(t *testing.T, cfg CartCheckConfig) *CartCheck {
	t.Helper()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewCartCheck(cfg)
	require.NoError(t, err)
	return c
}

func TestNewCartCheck_Defaults(t *testing.T) {
	_, err := NewCartCheck(CartCheckConfig{})
	assert.Error(t, err)

	c := newCheck(t, CartCheckConfig{URL: "http://localhost:8080"})
	assert.Equal(t, "Afador", c.cfg.Breed)
	assert.Equal(t, 20, c.cfg.ExpectedBreeds)
	assert.Equal(t, 1400, c.cfg.WindowWidth)
	assert.Equal(t, 800, c.cfg.WindowHeight)
	assert.Equal(t, defaultTimeout, c.cfg.Timeout)
}

func TestCartCheck_StepOrder(t *testing.T) {
	c := newCheck(t, CartCheckConfig{URL: "http://store", Breed: "Beagle"})
	var names []string
	for _, s := range c.steps(&pageState{}) {
		names = append(names, s.name)
	}
	assert.Equal(t, []string{
		"open store", "dismiss cookie banner", "shop by breeds",
		"shop for Beagle", "open toys", "add to cart",
	}, names)
}

func TestCartCheck_Checks(t *testing.T) {
	c := newCheck(t, CartCheckConfig{URL: "http://store", ExpectedBreeds: 3})
	st := &pageState{title: "Azure Pet Store", breeds: 3, cart: " 1 "}
	steps := c.steps(st)

	for _, s := range steps {
		if s.check != nil {
			assert.NoError(t, s.check(), s.name)
		}
	}

	st.title = "Not Found"
	st.breeds = 2
	st.cart = "0"
	failures := 0
	for _, s := range steps {
		if s.check != nil && s.check() != nil {
			failures++
		}
	}
	assert.Equal(t, 3, failures)
}

func TestXPathHelpers(t *testing.T) {
	assert.Equal(t, `//button[contains(., "Shop for Afador")]`, breedButtonXPath("Afador"))
	assert.Equal(t, `'say "hi"'`, xpathLiteral(`say "hi"`))
	assert.Equal(t, `concat("it's ", '"', "x", '"', "")`, xpathLiteral(`it's "x"`))
	assert.Contains(t, countXPath(breedButtons), "snapshotLength")
}

func TestReport_Failed(t *testing.T) {
	r := &Report{Steps: []StepResult{{Name: "a"}, {Name: "b", Err: assert.AnError}}}
	require.NotNil(t, r.Failed())
	assert.Equal(t, "b", r.Failed().Name)
	assert.Nil(t, (&Report{Steps: []StepResult{{Name: "a"}}}).Failed())
}
