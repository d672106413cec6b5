// Package geoip builds per-country CIDR lists from a MaxMind-format
// database, serving the geoip: source scheme.
package geoip

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// DefaultDatabaseURL is the upstream country database.
const DefaultDatabaseURL = "https://github.com/MetaCubeX/meta-rules-dat/releases/download/latest/geoip-lite.db"

// Index maps country codes (and vendor categories like GOOGLE) to their
// CIDR lists. Safe for concurrent lookups once loaded.
type Index struct {
	mu    sync.RWMutex
	cidrs map[string][]string
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{cidrs: make(map[string][]string)}
}

// Load parses the MMDB bytes and builds the in-memory index.
func (g *Index) Load(data []byte, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := maxminddb.FromBytes(data)
	if err != nil {
		return fmt.Errorf("failed to open mmdb: %w", err)
	}
	defer db.Close()

	newCIDRs := make(map[string][]string)

	networks := db.Networks(maxminddb.SkipAliasedNetworks)
	count := 0
	for networks.Next() {
		var record interface{}
		subnet, err := networks.Network(&record)
		if err != nil {
			continue
		}

		code := countryCode(record)
		if code == "" {
			continue
		}

		newCIDRs[code] = append(newCIDRs[code], subnet.String())
		count++
	}

	logger.Info("GeoIP database loaded", "bytes", len(data), "networks", count, "codes", len(newCIDRs))

	g.mu.Lock()
	g.cidrs = newCIDRs
	g.mu.Unlock()

	return nil
}

// CIDRs returns the CIDR list for the given country code or category.
func (g *Index) CIDRs(code string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cidrs, ok := g.cidrs[strings.ToUpper(code)]
	return cidrs, ok
}

// countryCode extracts an ISO code from the record shapes found across
// mmdb vendors.
func countryCode(record interface{}) string {
	switch v := record.(type) {
	case string:
		return strings.ToUpper(v)
	case map[string]interface{}:
		if c, ok := v["country"].(map[string]interface{}); ok {
			if iso, ok := c["iso_code"].(string); ok {
				return strings.ToUpper(iso)
			}
		}
		if iso, ok := v["iso_code"].(string); ok {
			return strings.ToUpper(iso)
		}
		if s, ok := v["code"].(string); ok {
			return strings.ToUpper(s)
		}
	}
	return ""
}

// Fetch downloads the database from url (DefaultDatabaseURL when empty)
// or reads it from a local path when url has no scheme.
func Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		url = DefaultDatabaseURL
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return os.ReadFile(url)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Ruleset-Forge/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: %s", resp.Status)
	}

	return io.ReadAll(resp.Body)
}
