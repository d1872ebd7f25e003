// Package commerce talks to the pet store frontend on behalf of a shopper.
package commerce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"petassist/internal/catalog"
	"petassist/internal/domain"
	"petassist/internal/metrics"
)

// ErrCartRejected is returned when the store answers a cart update with a
// non-2xx status.
var ErrCartRejected = errors.New("cart update rejected")

const defaultTimeout = 15 * time.Second

// Client implements domain.CommerceClient over the store's HTTP API.
type Client struct {
	baseURL string
	catalog *catalog.Catalog
	client  *http.Client
	logger  *slog.Logger
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Catalog *catalog.Catalog
	Client  *http.Client
	Logger  *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		catalog: cfg.Catalog,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

// UpdateCart adds productID to the shopper's cart using their store session.
// The session cookie and CSRF token are passed through as given.
func (c *Client) UpdateCart(ctx context.Context, s domain.SessionInfo, productID string) (domain.ClassificationResult, error) {
	if s.SessionID == "" {
		return domain.ClassificationResult{}, domain.ErrNoSession
	}

	q := url.Values{}
	q.Set("csrf", s.CSRFToken)
	q.Set("productId", productID)
	target := c.baseURL + "/api/updatecart?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("build cart request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: "JSESSIONID", Value: s.SessionID})
	req.Header.Set("X-CSRF-TOKEN", s.CSRFToken)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("cart request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("store rejected cart update", "status", resp.StatusCode, "product", productID)
		return domain.ClassificationResult{}, fmt.Errorf("%w: status %d: %s", ErrCartRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	io.Copy(io.Discard, resp.Body)

	metrics.CartUpdates.Inc()
	return domain.ClassificationResult{
		Label:      domain.LabelUpdateCart,
		ProductIDs: []string{productID},
		Response:   fmt.Sprintf("I just added %s to your shopping cart.", c.productName(productID)),
	}, nil
}

func (c *Client) productName(id string) string {
	if c.catalog != nil {
		if p, ok := c.catalog.Get(id); ok && p.Name != "" {
			return p.Name
		}
	}
	return id
}

// Healthy checks that the store frontend answers.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("store not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("store returned %d", resp.StatusCode)
	}
	return nil
}
