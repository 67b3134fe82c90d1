package embeddings

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"embedding-gateway/internal/retry"
)

// Fetcher downloads pretrained model files.
type Fetcher struct {
	Client   *http.Client
	Log      *slog.Logger
	Attempts int
	Backoff  time.Duration
}

// Fetch downloads url to path unless path already exists. Files whose URL
// ends in .gz are decompressed on the fly. The file appears atomically.
func (f Fetcher) Fetch(ctx context.Context, url, path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if url == "" {
		return fmt.Errorf("model file %s not found and no download url configured", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	attempts := f.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	base := f.Backoff
	if base <= 0 {
		base = time.Second
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	log := f.Log
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	err := retry.Do(ctx, attempts, base, func(attempt int) error {
		log.Info("downloading model", "url", url, "path", path, "attempt", attempt+1)
		err := download(ctx, client, url, path)
		if err != nil && !retry.IsPermanent(err) && attempt < attempts-1 {
			log.Warn("model download failed, retrying", "err", err, "attempt", attempt+1)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to download model from %s: %w", url, err)
	}
	log.Info("model downloaded", "path", path)
	return nil
}

func download(ctx context.Context, client *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return retry.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if strings.HasSuffix(strings.ToLower(req.URL.Path), ".gz") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("invalid gzip stream: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return retry.Permanent(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
