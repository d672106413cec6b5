// Package config loads the run configuration: category definitions,
// source locations, output layout and concurrency bounds.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"

	"github.com/xxxbrian/ruleset-forge/internal/resolver"
)

// Config is the full run configuration.
type Config struct {
	Output       string                    `mapstructure:"output"`
	Supplemental string                    `mapstructure:"supplemental"`
	Formats      []string                  `mapstructure:"formats"`
	Workers      int                       `mapstructure:"workers"`
	Archive      ArchiveConfig             `mapstructure:"archive"`
	GeoIP        GeoIPConfig               `mapstructure:"geoip"`
	Source       SourceConfig              `mapstructure:"source"`
	Categories   map[string]CategoryConfig `mapstructure:"categories"`
}

// ArchiveConfig configures the geosite archive used by zip: sources.
type ArchiveConfig struct {
	URL   string `mapstructure:"url"`
	Cache string `mapstructure:"cache"` // persistence path, empty disables
}

// GeoIPConfig configures the country database used by geoip: sources.
type GeoIPConfig struct {
	Database string `mapstructure:"database"` // URL or local path
}

// SourceConfig bounds network fetches.
type SourceConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

// CategoryConfig defines one category.
type CategoryConfig struct {
	Sources []string `mapstructure:"sources"`
	Include []string `mapstructure:"include"`
	Policy  string   `mapstructure:"policy"`
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("output", "rule-set")
	v.SetDefault("workers", 0)
	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.max_bytes", int64(8<<20))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Output == "" {
		return fmt.Errorf("output directory must be set")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("no categories configured")
	}
	for name, cat := range c.Categories {
		if len(cat.Sources) == 0 && len(cat.Include) == 0 {
			return fmt.Errorf("category %s has no sources and no includes", name)
		}
		if cat.Policy != "" && cat.Policy != resolver.PolicyLocal {
			return fmt.Errorf("category %s: unknown policy tag %q", name, cat.Policy)
		}
		for _, inc := range cat.Include {
			if _, ok := c.Categories[inc]; !ok {
				return fmt.Errorf("category %s includes unknown category %s", name, inc)
			}
		}
	}
	return nil
}

// ResolverCategories converts the category map to the resolver's input
// form in stable name order.
func (c *Config) ResolverCategories() []resolver.Category {
	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]resolver.Category, 0, len(names))
	for _, name := range names {
		cat := c.Categories[name]
		out = append(out, resolver.Category{
			Name:     name,
			Sources:  cat.Sources,
			Includes: cat.Include,
			Policy:   cat.Policy,
		})
	}
	return out
}

// NeedsArchive reports whether any category uses a zip: source.
func (c *Config) NeedsArchive() bool {
	return c.anyScheme("zip:")
}

// NeedsGeoIP reports whether any category uses a geoip: source.
func (c *Config) NeedsGeoIP() bool {
	return c.anyScheme("geoip:")
}

func (c *Config) anyScheme(prefix string) bool {
	for _, cat := range c.Categories {
		for _, src := range cat.Sources {
			if len(src) >= len(prefix) && src[:len(prefix)] == prefix {
				return true
			}
		}
	}
	return false
}
