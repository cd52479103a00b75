package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
)

const cacheDir = "cache/responses"

// cachePath returns the cache file path for a request key (the full
// request URI of a public catalog read).
func cachePath(key string) string {
	hash := xxhash.Sum64String(key)
	return filepath.Join(cacheDir, fmt.Sprintf("%016x.json", hash))
}

func ensureCacheDir() error {
	return os.MkdirAll(cacheDir, 0755)
}

// Write stores a response body for the given request key.
func Write(key, body string) error {
	if err := ensureCacheDir(); err != nil {
		return err
	}
	return os.WriteFile(cachePath(key), []byte(body), 0644)
}

// Read returns the cached body for the key if it exists and is younger
// than maxAge.
func Read(key string, maxAge time.Duration) (string, bool) {
	path := cachePath(key)

	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}

	if time.Since(info.ModTime()) > maxAge {
		return "", false
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	return string(content), true
}

// Clear drops every cached response. Catalog mutations call this rather
// than tracking which list pages a change affects.
func Clear() error {
	return os.RemoveAll(cacheDir)
}
