// Package source fetches news from the external sources, normalizes it into
// NewsItems and writes it to the store.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/abdulachik/aipulse/internal/model"
	"github.com/abdulachik/aipulse/internal/store"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "aipulse/1.0"

	// metadataWindow is how many recent items are scanned when filtering on a
	// metadata field the store cannot query.
	metadataWindow = 500
)

// ErrUnexpectedStatus is wrapped when an upstream API answers with a non-200
// status.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Fetcher is one external source. FetchAll fetches, classifies and stores the
// source's current items. Failures of individual entries (a story, a repo, a
// feed) are logged and skipped; only store failures are returned.
type Fetcher interface {
	Name() model.Source
	FetchAll(ctx context.Context) ([]model.NewsItem, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultTimeout}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// getJSON issues a GET and decodes a 200 response body into dst.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w %d from %s: %s", ErrUnexpectedStatus, resp.StatusCode, url, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// truncate cuts s to max runes and appends "..." when anything was cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// filterByMetadata reads the most recent window of a source's items, keeps
// those whose metadata key equals value and returns one page of them along
// with the match count.
func filterByMetadata(ctx context.Context, st store.Store, src model.Source, key, value string, page, pageSize int) ([]model.NewsItem, int, error) {
	all, err := st.GetItems(ctx, 1, metadataWindow, store.Filter{Source: src})
	if err != nil {
		return nil, 0, err
	}

	matched := make([]model.NewsItem, 0)
	for _, item := range all {
		if item.Metadata[key] == value {
			matched = append(matched, item)
		}
	}

	start, end := model.PageBounds(len(matched), page, pageSize)
	if start == end {
		return []model.NewsItem{}, len(matched), nil
	}
	return matched[start:end], len(matched), nil
}
