package model

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Brownie44l1/dr-api/internal/retry"
)

// EnsureFile downloads url to path unless path already exists. The body
// is streamed to a temp file in the same directory and renamed into place,
// so an interrupted download never leaves a partial model behind.
func EnsureFile(ctx context.Context, client *http.Client, path, url string, cfg retry.Config) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if url == "" {
		return fmt.Errorf("%s is missing and no download URL is configured", path)
	}
	if client == nil {
		client = http.DefaultClient
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	log.Printf("Downloading %s from %s", path, url)
	err := retry.Do(ctx, cfg, "download "+filepath.Base(path), log.Printf, func(int) error {
		return download(ctx, client, path, url)
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", path, err)
	}
	log.Printf("Downloaded %s", path)
	return nil
}

func download(ctx context.Context, client *http.Client, path, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.Permanent(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode < http.StatusInternalServerError {
			return retry.Permanent(err)
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return retry.Permanent(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
