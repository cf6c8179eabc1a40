// Package style decides which stored entities pass 2 writes, from per-kind
// tag rules in a YAML file.
package style

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/osmingest-go/internal/middle"
)

// Config holds one rule set per entity kind. A missing kind matches all.
type Config struct {
	Nodes     *FilterConfig `yaml:"nodes,omitempty"`
	Ways      *FilterConfig `yaml:"ways,omitempty"`
	Relations *FilterConfig `yaml:"relations,omitempty"`
}

// FilterConfig is the YAML form of a rule set. Include and Exclude map a
// tag key to accepted values; no values, or "*", accepts any value.
// Exclude is applied after Include.
type FilterConfig struct {
	Include    map[string][]string `yaml:"include,omitempty"`
	Exclude    map[string][]string `yaml:"exclude,omitempty"`
	RequireAny []string            `yaml:"require_any,omitempty"`
}

// LoadConfig reads and validates a style file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid style %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate rejects empty tag keys.
func (c *Config) Validate() error {
	for _, kind := range middle.Kinds {
		fc := c.rules(kind)
		if fc == nil {
			continue
		}
		for _, set := range []map[string][]string{fc.Include, fc.Exclude} {
			if _, ok := set[""]; ok {
				return fmt.Errorf("%s: empty tag key", kind)
			}
		}
		for _, key := range fc.RequireAny {
			if key == "" {
				return fmt.Errorf("%s: empty require_any key", kind)
			}
		}
	}
	return nil
}

func (c *Config) rules(kind middle.Kind) *FilterConfig {
	if c == nil {
		return nil
	}
	switch kind {
	case middle.KindNode:
		return c.Nodes
	case middle.KindWay:
		return c.Ways
	case middle.KindRelation:
		return c.Relations
	}
	return nil
}

// Filter returns the compiled filter for kind. A nil Config matches
// everything.
func (c *Config) Filter(kind middle.Kind) *Filter {
	return NewFilter(c.rules(kind))
}

// valueSet holds the accepted values of one key; nil accepts any value.
type valueSet map[string]struct{}

// Filter is a compiled FilterConfig.
type Filter struct {
	include map[string]valueSet
	exclude map[string]valueSet
	require []string
}

// NewFilter compiles cfg. A nil cfg matches everything.
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		return &Filter{}
	}
	return &Filter{
		include: compile(cfg.Include),
		exclude: compile(cfg.Exclude),
		require: cfg.RequireAny,
	}
}

func compile(rules map[string][]string) map[string]valueSet {
	if len(rules) == 0 {
		return nil
	}
	out := make(map[string]valueSet, len(rules))
	for key, values := range rules {
		var set valueSet
		for _, v := range values {
			if v == "*" {
				set = nil
				break
			}
			if set == nil {
				set = make(valueSet, len(values))
			}
			set[v] = struct{}{}
		}
		out[key] = set
	}
	return out
}

// HasFilter reports whether any rule is set.
func (f *Filter) HasFilter() bool {
	return len(f.include) > 0 || len(f.exclude) > 0 || len(f.require) > 0
}

// Match reports whether an entity with tags should be written.
func (f *Filter) Match(tags middle.Tags) bool {
	if len(f.require) > 0 && !hasAnyKey(tags, f.require) {
		return false
	}
	if len(f.include) > 0 && !matches(f.include, tags) {
		return false
	}
	return !matches(f.exclude, tags)
}

func hasAnyKey(tags middle.Tags, keys []string) bool {
	for _, key := range keys {
		if _, ok := tags.Find(key); ok {
			return true
		}
	}
	return false
}

func matches(rules map[string]valueSet, tags middle.Tags) bool {
	if len(rules) == 0 {
		return false
	}
	for _, tag := range tags {
		set, ok := rules[tag.Key]
		if !ok {
			continue
		}
		if set == nil {
			return true
		}
		if _, ok := set[tag.Value]; ok {
			return true
		}
	}
	return false
}
