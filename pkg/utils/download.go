package utils

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"os"
	"path/filepath"
)

var ErrNotFound = errors.New("file not found on server")

// DownloadFile downloads a file from a URL to a local path safely.
func DownloadFile(url, path string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Error closing response body: %v", err)
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	// Create a temp file in the same directory to ensure atomic move
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			log.Printf("Error removing temp file %s: %v", tmpName, err)
		}
	}() // Clean up if we fail

	if _, err := tmpFile.ReadFrom(resp.Body); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final path
	return os.Rename(tmpName, path)
}

// CacheFileName returns a stable local filename for a URL.
func CacheFileName(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// FetchAvatar returns the decoded avatar image for a URL, downloading into
// cacheDir on first use and reusing the cached copy afterwards.
func FetchAvatar(url, cacheDir string) (image.Image, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	localPath := filepath.Join(cacheDir, CacheFileName(url))

	if _, err := os.Stat(localPath); os.IsNotExist(err) {
		log.Printf("[avatar] Downloading %s", url)
		if err := DownloadFile(url, localPath); err != nil {
			return nil, err
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Error closing cache file: %v", err)
		}
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		// A cached file that no longer decodes is useless; drop it so the
		// next attempt re-downloads.
		_ = os.Remove(localPath)
		return nil, fmt.Errorf("failed to decode avatar: %w", err)
	}
	return img, nil
}
