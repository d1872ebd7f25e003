// Package browser drives a real Chrome against the store front end to
// check that a shopper can put a toy in the cart.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	storeTitle        = "Azure Pet Store"
	defaultBreed      = "Afador"
	defaultBreedCount = 20
	defaultTimeout    = 60 * time.Second

	cookieDismiss  = ".cc-dismiss"
	cartCount      = ".cartcount > div"
	breedsLink     = `//a[contains(normalize-space(.), "Shop by breeds")]`
	breedButtons   = `//button[contains(., "Shop for")]`
	toysButton     = `//table[@class="table"]//a[1]/button[@class="btn btn-outline-primary"]`
	addToCart      = `//table[@class="table"]//tr[1]//button[@class="btn btn-outline-primary"]`
	settleAfterAdd = time.Second
)

// CartCheckConfig configures the cart check.
type CartCheckConfig struct {
	URL            string
	ProxyServer    string // e.g. socks5://127.0.0.1:4444
	Headless       bool
	WindowWidth    int
	WindowHeight   int
	ExpectedBreeds int // number of "Shop for" buttons on the breeds page
	Breed          string
	Timeout        time.Duration
	Logger         *slog.Logger
}

// CartCheck walks the store from the home page to a cart holding one toy.
type CartCheck struct {
	cfg    CartCheckConfig
	logger *slog.Logger
}

// StepResult records one step of a run.
type StepResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Report is the outcome of a run. Steps stop at the first failure.
type Report struct {
	Steps []StepResult
}

// Failed returns the first failed step, or nil.
func (r *Report) Failed() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Err != nil {
			return &r.Steps[i]
		}
	}
	return nil
}

func NewCartCheck(cfg CartCheckConfig) (*CartCheck, error) {
	if cfg.URL == "" {
		return nil, errors.New("cart check: url is required")
	}
	if cfg.Breed == "" {
		cfg.Breed = defaultBreed
	}
	if cfg.ExpectedBreeds == 0 {
		cfg.ExpectedBreeds = defaultBreedCount
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1400, 800
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &CartCheck{cfg: cfg, logger: cfg.Logger}, nil
}

// pageState holds what the steps read back from the page.
type pageState struct {
	title  string
	breeds int
	cart   string
}

type step struct {
	name   string
	action chromedp.Action
	check  func() error // runs after action, may be nil
}

// Run launches Chrome and executes every step. The returned error is the
// first failure, also recorded in the report.
func (c *CartCheck) Run(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var st pageState
	report := &Report{}
	for _, s := range c.steps(&st) {
		start := time.Now()
		err := chromedp.Run(taskCtx, s.action)
		if err == nil && s.check != nil {
			err = s.check()
		}
		report.Steps = append(report.Steps, StepResult{Name: s.name, Duration: time.Since(start), Err: err})
		if err != nil {
			c.logger.Warn("cart check step failed", "step", s.name, "err", err)
			return report, fmt.Errorf("%s: %w", s.name, err)
		}
		c.logger.Debug("cart check step passed", "step", s.name)
	}
	return report, nil
}

func (c *CartCheck) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight),
	)
	if c.cfg.ProxyServer != "" {
		opts = append(opts, chromedp.ProxyServer(c.cfg.ProxyServer))
	}
	if c.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

func (c *CartCheck) steps(st *pageState) []step {
	return []step{
		{
			name:   "open store",
			action: chromedp.Tasks{chromedp.Navigate(c.cfg.URL), chromedp.Title(&st.title)},
			check: func() error {
				if st.title != storeTitle {
					return fmt.Errorf("title %q, want %q", st.title, storeTitle)
				}
				return nil
			},
		},
		{
			name:   "dismiss cookie banner",
			action: chromedp.Click(cookieDismiss, chromedp.ByQuery),
		},
		{
			name: "shop by breeds",
			action: chromedp.Tasks{
				chromedp.Click(breedsLink, chromedp.BySearch),
				chromedp.WaitVisible(breedButtons, chromedp.BySearch),
				chromedp.Evaluate(countXPath(breedButtons), &st.breeds),
			},
			check: func() error {
				if st.breeds != c.cfg.ExpectedBreeds {
					return fmt.Errorf("found %d breeds, want %d", st.breeds, c.cfg.ExpectedBreeds)
				}
				return nil
			},
		},
		{
			name:   "shop for " + c.cfg.Breed,
			action: chromedp.Click(breedButtonXPath(c.cfg.Breed), chromedp.BySearch),
		},
		{
			name:   "open toys",
			action: chromedp.Click(toysButton, chromedp.BySearch),
		},
		{
			name: "add to cart",
			action: chromedp.Tasks{
				chromedp.Click(addToCart, chromedp.BySearch),
				chromedp.Sleep(settleAfterAdd),
				chromedp.Text(cartCount, &st.cart, chromedp.ByQuery),
			},
			check: func() error {
				if strings.TrimSpace(st.cart) != "1" {
					return fmt.Errorf("cart count %q, want 1", st.cart)
				}
				return nil
			},
		},
	}
}

func breedButtonXPath(breed string) string {
	return `//button[contains(., ` + xpathLiteral("Shop for "+breed) + `)]`
}

// countXPath returns a script that counts the nodes matching an XPath.
func countXPath(xpath string) string {
	return `document.evaluate(` + strconv.Quote(xpath) +
		`, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	return `concat("` + strings.Join(parts, `", '"', "`) + `")`
}
