package source

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultArchiveURL is the upstream geosite category archive.
const DefaultArchiveURL = "https://github.com/v2fly/domain-list-community/archive/refs/heads/master.zip"

// Archive downloads the geosite category ZIP once per run and serves
// category files out of it. A persisted copy is revalidated against the
// upstream ETag so unchanged archives are not re-downloaded.
type Archive struct {
	url         string
	client      *http.Client
	persistPath string
	logger      *slog.Logger

	mu     sync.Mutex
	reader *zip.Reader
	data   []byte
	etag   string
}

// NewArchive creates an Archive for the given URL (DefaultArchiveURL when
// empty). persistPath enables the on-disk copy; empty disables it.
func NewArchive(url, persistPath string, logger *slog.Logger) *Archive {
	if url == "" {
		url = DefaultArchiveURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		url:         url,
		client:      &http.Client{Timeout: 60 * time.Second},
		persistPath: persistPath,
		logger:      logger,
	}
}

// Entry returns the content of the category file data/<name> from the
// archive, downloading the archive on first use.
func (a *Archive) Entry(ctx context.Context, name string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reader == nil {
		if err := a.loadLocked(ctx); err != nil {
			return "", err
		}
	}

	want := "/data/" + name
	for _, file := range a.reader.File {
		if strings.HasSuffix(file.Name, want) {
			rc, err := file.Open()
			if err != nil {
				return "", err
			}
			defer rc.Close()
			content, err := io.ReadAll(rc)
			if err != nil {
				return "", err
			}
			return string(content), nil
		}
	}

	return "", fmt.Errorf("entry not found: %s", name)
}

type archivePersist struct {
	Data []byte
	ETag string
}

func (a *Archive) loadLocked(ctx context.Context) error {
	if a.persistPath != "" {
		if err := a.restoreLocked(); err != nil && !os.IsNotExist(err) {
			a.logger.Warn("archive restore failed", "path", a.persistPath, "error", err)
		}
	}

	// A restored copy is good enough when the upstream ETag still matches.
	if a.data != nil && a.etag != "" {
		etag, err := a.headETag(ctx)
		if err == nil && etag == a.etag {
			return a.openLocked()
		}
	}

	data, etag, err := a.download(ctx)
	if err != nil {
		if a.data != nil {
			a.logger.Warn("archive download failed, using stale copy", "error", err)
			return a.openLocked()
		}
		return err
	}

	a.data = data
	a.etag = etag
	if a.persistPath != "" {
		if err := a.persistLocked(); err != nil {
			a.logger.Warn("archive persist failed", "path", a.persistPath, "error", err)
		}
	}
	return a.openLocked()
}

func (a *Archive) openLocked() error {
	reader, err := zip.NewReader(bytes.NewReader(a.data), int64(len(a.data)))
	if err != nil {
		return fmt.Errorf("bad archive data: %w", err)
	}
	a.reader = reader
	return nil
}

func (a *Archive) headETag(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, a.url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HEAD request failed: %s", resp.Status)
	}

	etag := strings.ReplaceAll(resp.Header.Get("ETag"), "\"", "")
	return strings.TrimPrefix(etag, "W/"), nil
}

func (a *Archive) download(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}

	etag := strings.ReplaceAll(resp.Header.Get("ETag"), "\"", "")
	return data, strings.TrimPrefix(etag, "W/"), nil
}

func (a *Archive) restoreLocked() error {
	file, err := os.Open(a.persistPath)
	if err != nil {
		return err
	}
	defer file.Close()

	var persisted archivePersist
	if err := gob.NewDecoder(file).Decode(&persisted); err != nil {
		return err
	}

	a.data = persisted.Data
	a.etag = persisted.ETag
	return nil
}

func (a *Archive) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(a.persistPath), 0o755); err != nil {
		return err
	}

	tmpPath := a.persistPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(archivePersist{Data: a.data, ETag: a.etag})
	closeErr := file.Close()
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return closeErr
	}

	return os.Rename(tmpPath, a.persistPath)
}
