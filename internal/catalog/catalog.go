// Package catalog holds the products the assistant knows about.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"petassist/internal/domain"
)

//go:embed products.yaml
var builtinYAML []byte

type file struct {
	Products []domain.Product `yaml:"products"`
}

// Catalog is an immutable, ordered set of products indexed by id.
type Catalog struct {
	products []domain.Product
	byID     map[string]domain.Product
}

// Builtin returns the catalog shipped with the binary.
func Builtin() (*Catalog, error) {
	return Parse(builtinYAML)
}

// Load reads a YAML catalog from path. An empty path loads the builtin catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Builtin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a YAML catalog. Ids are required and must be unique.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return New(f.Products)
}

func New(products []domain.Product) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]domain.Product, len(products))}
	for i, p := range products {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("product %d: missing id", i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("product %d: duplicate id %s", i, p.ID)
		}
		c.byID[p.ID] = p
		c.products = append(c.products, p)
	}
	return c, nil
}

func (c *Catalog) Len() int { return len(c.products) }

// All returns the products in file order.
func (c *Catalog) All() []domain.Product {
	out := make([]domain.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Get looks a product up by id. Lookup is case-insensitive.
func (c *Catalog) Get(id string) (domain.Product, bool) {
	id = strings.TrimSpace(id)
	if p, ok := c.byID[id]; ok {
		return p, true
	}
	for _, p := range c.products {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return domain.Product{}, false
}

// Search returns products whose name, category or description contains query.
func (c *Catalog) Search(query string) []domain.Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []domain.Product
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Category), q) ||
			strings.Contains(strings.ToLower(p.Description), q) {
			out = append(out, p)
		}
	}
	return out
}

// Known filters ids down to catalog ids, keeping order, canonical casing and
// dropping duplicates. An empty catalog knows nothing.
func (c *Catalog) Known(ids []string) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		p, ok := c.Get(id)
		if !ok || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p.ID)
	}
	return out
}

// Describe renders one product per line for prompts.
func (c *Catalog) Describe() string {
	var sb strings.Builder
	for _, p := range c.products {
		fmt.Fprintf(&sb, "%s | %s | %s | $%.2f | %s\n", p.ID, p.Name, p.Category, p.Price, p.Description)
	}
	return sb.String()
}
