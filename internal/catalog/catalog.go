package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed responses.yaml
var defaultResponses []byte

// ErrMissingEntry is returned when a key has no catalog entry.
var ErrMissingEntry = errors.New("catalog entry missing")

// Key identifies a canned response.
type Key struct {
	Topic string
	Sub   string
}

func (k Key) String() string {
	return k.Topic + "." + k.Sub
}

// Catalog is an immutable table of canned responses. Safe for concurrent use.
type Catalog struct {
	entries map[Key]*template.Template
	raw     map[Key]string
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultResponses)
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML of the form topic -> sub -> text.
func Parse(data []byte) (*Catalog, error) {
	var doc map[string]map[string]string
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		entries: make(map[Key]*template.Template),
		raw:     make(map[Key]string),
	}
	for topic, subs := range doc {
		for sub, text := range subs {
			k := Key{Topic: topic, Sub: sub}
			tmpl, err := template.New(k.String()).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("parse entry %s: %w", k, err)
			}
			c.entries[k] = tmpl
			c.raw[k] = text
		}
	}
	return c, nil
}

// Text returns the entry for k verbatim.
func (c *Catalog) Text(k Key) (string, error) {
	text, ok := c.raw[k]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingEntry, k)
	}
	return text, nil
}

// Render executes the entry for k with vars.
func (c *Catalog) Render(k Key, vars map[string]string) (string, error) {
	tmpl, ok := c.entries[k]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingEntry, k)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", k, err)
	}
	return sb.String(), nil
}

// Require reports every key in keys that has no entry.
func (c *Catalog) Require(keys ...Key) error {
	var missing []string
	for _, k := range keys {
		if _, ok := c.raw[k]; !ok {
			missing = append(missing, k.String())
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrMissingEntry, strings.Join(missing, ", "))
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.raw)
}
