package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltin_Loads(t *testing.T) {
	c, err := Builtin()
	if err != nil {
		t.Fatalf("builtin catalog: %v", err)
	}
	if c.Len() == 0 {
		t.Fatal("builtin catalog is empty")
	}
	if _, ok := c.Get("P4"); !ok {
		t.Error("expected P4 in builtin catalog")
	}
}

func TestParse_DuplicateID(t *testing.T) {
	_, err := Parse([]byte("products:\n  - id: A\n  - id: A\n"))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestParse_MissingID(t *testing.T) {
	if _, err := Parse([]byte("products:\n  - name: nameless\n")); err == nil {
		t.Fatal("expected missing id error")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("products: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := "products:\n  - id: X1\n    name: Kong\n    category: Dog Toys\n    price: 10\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, ok := c.Get("x1")
	if !ok || p.Name != "Kong" {
		t.Fatalf("expected case-insensitive lookup of X1, got %+v %v", p, ok)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestKnown_FiltersAndDedupes(t *testing.T) {
	c, _ := New(nil)
	if got := c.Known([]string{"P1"}); len(got) != 0 {
		t.Fatalf("empty catalog should know nothing, got %v", got)
	}

	c, err := Builtin()
	if err != nil {
		t.Fatal(err)
	}
	got := c.Known([]string{"p2", "bogus", "P1", "P2"})
	if len(got) != 2 || got[0] != "P2" || got[1] != "P1" {
		t.Fatalf("unexpected known ids: %v", got)
	}
}

func TestSearch(t *testing.T) {
	c, _ := Builtin()
	if got := c.Search("leash"); len(got) != 1 || got[0].ID != "P4" {
		t.Fatalf("expected leash to find P4, got %v", got)
	}
	if got := c.Search("cat toys"); len(got) < 2 {
		t.Fatalf("expected several cat toys, got %d", len(got))
	}
	if got := c.Search("  "); got != nil {
		t.Fatalf("blank query should find nothing, got %v", got)
	}
}

func TestDescribe(t *testing.T) {
	c, _ := New(nil)
	if c.Describe() != "" {
		t.Error("empty catalog should describe to empty string")
	}
	c, _ = Builtin()
	lines := strings.Split(strings.TrimSpace(c.Describe()), "\n")
	if len(lines) != c.Len() {
		t.Fatalf("expected %d lines, got %d", c.Len(), len(lines))
	}
	if !strings.HasPrefix(lines[0], "P1 | Ball | Dog Toys | $8.99") {
		t.Errorf("unexpected first line: %s", lines[0])
	}
}
