// Package catalog holds the closed vocabularies the conversation engine
// validates user input against: item categories, campus locations and the
// special reply tokens.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// ErrInvalidCatalog is returned when a catalog document fails validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Location is a physical place where items are reported.
type Location struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
}

// Catalog is an immutable set of lookup tables. Safe for concurrent use.
type Catalog struct {
	Categories   []string   `yaml:"categories"`
	Locations    []Location `yaml:"locations"`
	DontRemember string     `yaml:"dont_remember"`
	Skip         string     `yaml:"skip"`

	categoryIdx map[string]string
	locationIdx map[string]Location
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file. An empty path yields Default().
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("%w: no categories", ErrInvalidCatalog)
	}
	if len(c.Locations) == 0 {
		return fmt.Errorf("%w: no locations", ErrInvalidCatalog)
	}
	if strings.TrimSpace(c.DontRemember) == "" {
		return fmt.Errorf("%w: dont_remember token is empty", ErrInvalidCatalog)
	}
	if strings.TrimSpace(c.Skip) == "" {
		return fmt.Errorf("%w: skip token is empty", ErrInvalidCatalog)
	}

	c.categoryIdx = make(map[string]string, len(c.Categories))
	for _, name := range c.Categories {
		k := normalize(name)
		if k == "" {
			return fmt.Errorf("%w: empty category", ErrInvalidCatalog)
		}
		if _, dup := c.categoryIdx[k]; dup {
			return fmt.Errorf("%w: duplicate category %q", ErrInvalidCatalog, name)
		}
		c.categoryIdx[k] = name
	}

	c.locationIdx = make(map[string]Location, len(c.Locations))
	for _, loc := range c.Locations {
		k := normalize(loc.Name)
		if k == "" {
			return fmt.Errorf("%w: empty location name", ErrInvalidCatalog)
		}
		if _, dup := c.locationIdx[k]; dup {
			return fmt.Errorf("%w: duplicate location %q", ErrInvalidCatalog, loc.Name)
		}
		c.locationIdx[k] = loc
	}
	if _, clash := c.locationIdx[normalize(c.DontRemember)]; clash {
		return fmt.Errorf("%w: dont_remember token %q is also a location", ErrInvalidCatalog, c.DontRemember)
	}
	return nil
}

// Category returns the canonical category name matching s.
func (c *Catalog) Category(s string) (string, bool) {
	name, ok := c.categoryIdx[normalize(s)]
	return name, ok
}

// Location returns the location whose name matches s.
func (c *Catalog) Location(s string) (Location, bool) {
	loc, ok := c.locationIdx[normalize(s)]
	return loc, ok
}

// LostLocation resolves input for the lost-search flow, where the
// "don't remember" sentinel is allowed. It returns an empty key for the
// sentinel, meaning no location filter.
func (c *Catalog) LostLocation(s string) (key string, ok bool) {
	if c.IsDontRemember(s) {
		return "", true
	}
	loc, ok := c.Location(s)
	if !ok {
		return "", false
	}
	return loc.Name, true
}

// IsDontRemember reports whether s is the "don't remember" sentinel.
func (c *Catalog) IsDontRemember(s string) bool {
	return normalize(s) == normalize(c.DontRemember)
}

// IsSkip reports whether s is the skip token.
func (c *Catalog) IsSkip(s string) bool {
	return normalize(s) == normalize(c.Skip)
}

// Address returns the human-readable address for a location name, or "".
func (c *Catalog) Address(name string) string {
	return c.locationIdx[normalize(name)].Address
}

// LocationNames returns location names in catalog order.
func (c *Catalog) LocationNames() []string {
	names := make([]string, len(c.Locations))
	for i, l := range c.Locations {
		names[i] = l.Name
	}
	return names
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
