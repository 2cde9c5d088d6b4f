package calendar

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"tailortalk/internal/config"
	appLog "tailortalk/internal/log"
)

const maxFeedBytes = 8 << 20

// feedMeta is the HTTP validator state kept next to a cached feed body.
type feedMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FeedFetcher downloads subscribed ICS feeds with conditional requests and
// falls back to the last good copy on disk when the origin is unavailable.
type FeedFetcher struct {
	client   *http.Client
	cacheDir string
	maxBytes int64
}

// NewFeedFetcher caches feed bodies under cacheDir. A nil client gets a
// 15 second timeout.
func NewFeedFetcher(cacheDir string, client *http.Client) *FeedFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &FeedFetcher{client: client, cacheDir: cacheDir, maxBytes: maxFeedBytes}
}

// Fetch returns the feed body and whether it came from the local cache.
func (f *FeedFetcher) Fetch(ctx context.Context, feedURL string) ([]byte, bool, error) {
	if feedURL == "" {
		return nil, false, errors.New("feed URL is empty")
	}

	cachePath := f.cachePath(feedURL)
	meta, _ := loadFeedMeta(cachePath)
	cached, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, false, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if len(cached) > 0 {
			appLog.Warn("feed fetch failed, using cached copy", "url", redactURL(feedURL), "err", err.Error())
			return cached, true, nil
		}
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
		if err == nil && int64(len(body)) > f.maxBytes {
			err = fmt.Errorf("feed exceeds %d bytes", f.maxBytes)
		}
		if err != nil {
			if len(cached) > 0 {
				appLog.Warn("feed body rejected, using cached copy", "url", redactURL(feedURL), "err", err.Error())
				return cached, true, nil
			}
			return nil, false, err
		}
		next := feedMeta{
			URL:          feedURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveFeed(cachePath, next, body); err != nil {
			appLog.Error("feed cache save failed", err, "url", redactURL(feedURL))
		}
		appLog.Debug("feed fetched", "url", redactURL(feedURL), "bytes", len(body))
		return body, false, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, false, errors.New("304 Not Modified without a cached body")
		}
		return cached, true, nil

	default:
		if len(cached) > 0 {
			appLog.Warn("feed returned non-OK status, using cached copy", "url", redactURL(feedURL), "status", resp.StatusCode)
			return cached, true, nil
		}
		return nil, false, errors.New(resp.Status)
	}
}

func (f *FeedFetcher) cachePath(feedURL string) string {
	sum := sha256.Sum256([]byte(feedURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadFeedMeta(cachePath string) (feedMeta, error) {
	var meta feedMeta
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

// saveFeed writes the body before the metadata so validators never point at
// a missing body.
func saveFeed(cachePath string, meta feedMeta, body []byte) error {
	if err := config.WriteFileAtomic(filepath.Join(cachePath, "body.ics"), body); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return config.WriteFileAtomic(filepath.Join(cachePath, "meta.json"), data)
}

// redactURL keeps only scheme and host; feed paths often embed secrets.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
