// Package source loads raw rule lines for a category from its configured
// source locations: HTTP(S) URLs, local files, geosite archive entries and
// GeoIP country lookups.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

const userAgent = "Ruleset-Forge/1.0"

// Sentinel errors for category-level failure classification.
var (
	// ErrUnavailable reports a source that could not be read at all.
	ErrUnavailable = errors.New("source unavailable")
	// ErrMalformed reports a source whose content is unusable.
	ErrMalformed = errors.New("source malformed")
)

// CountryIndex resolves an ISO country code to its CIDR list. Implemented
// by the geoip package.
type CountryIndex interface {
	CIDRs(code string) ([]string, bool)
}

// ArchiveReader reads a named entry out of the geosite archive.
// Implemented by *Archive.
type ArchiveReader interface {
	Entry(ctx context.Context, name string) (string, error)
}

// Options bounds network behavior of the loader.
type Options struct {
	Timeout  time.Duration // per-request; default 30s
	MaxBytes int64         // response size cap; default 8 MiB
}

// Loader fetches raw category content. It is safe for concurrent use.
type Loader struct {
	client   *http.Client
	maxBytes int64
	archive  ArchiveReader
	geoip    CountryIndex
	logger   *slog.Logger
}

// NewLoader creates a Loader. archive and geoip may be nil when the run
// configuration uses no zip: or geoip: sources.
func NewLoader(opt Options, archive ArchiveReader, geoip CountryIndex, logger *slog.Logger) *Loader {
	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBytes := opt.MaxBytes
	if maxBytes == 0 {
		maxBytes = 8 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		archive:  archive,
		geoip:    geoip,
		logger:   logger,
	}
}

// Load returns the raw lines of one source location. Location schemes:
// http(s)://URL, file:PATH, zip:NAME (geosite archive entry), geoip:CC.
func (l *Loader) Load(ctx context.Context, location string) ([]string, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return l.fetchURL(ctx, location)
	case strings.HasPrefix(location, "file:"):
		return l.readFile(strings.TrimPrefix(location, "file:"))
	case strings.HasPrefix(location, "zip:"):
		return l.readArchive(ctx, strings.TrimPrefix(location, "zip:"))
	case strings.HasPrefix(location, "geoip:"):
		return l.lookupCountry(strings.TrimPrefix(location, "geoip:"))
	default:
		return nil, fmt.Errorf("%w: unknown source scheme: %s", ErrUnavailable, location)
	}
}

func (l *Loader) fetchURL(ctx context.Context, rawURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, rawURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, rawURL, err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, fmt.Errorf("%w: %s: response exceeds %d bytes", ErrMalformed, rawURL, l.maxBytes)
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: %s: not valid UTF-8", ErrMalformed, rawURL)
	}

	return splitLines(string(body)), nil
}

func (l *Loader) readFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s: not valid UTF-8", ErrMalformed, path)
	}
	return splitLines(string(data)), nil
}

func (l *Loader) readArchive(ctx context.Context, name string) ([]string, error) {
	if l.archive == nil {
		return nil, fmt.Errorf("%w: zip source %q but no archive configured", ErrUnavailable, name)
	}
	content, err := l.archive.Entry(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: archive entry %s: %v", ErrUnavailable, name, err)
	}
	return splitLines(content), nil
}

func (l *Loader) lookupCountry(code string) ([]string, error) {
	if l.geoip == nil {
		return nil, fmt.Errorf("%w: geoip source %q but no database configured", ErrUnavailable, code)
	}
	cidrs, ok := l.geoip.CIDRs(code)
	if !ok {
		return nil, fmt.Errorf("%w: no GeoIP entries for %q", ErrUnavailable, code)
	}
	return cidrs, nil
}

func splitLines(content string) []string {
	return strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
}
