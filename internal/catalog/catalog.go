// Package catalog keeps the persisted list of archive links crawled from the
// matrix collection portal.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/storage/local"
)

// DefaultKeyPrefix is stripped from link paths to form storage keys.
const DefaultKeyPrefix = "/MM/"

// LinkLister returns archive hrefs from the portal in page order.
type LinkLister interface {
	ListLinks(ctx context.Context) ([]string, error)
}

// Entry is one remote archive and the relative key it is stored under.
type Entry struct {
	URL string
	Key string
}

// NewEntry derives the storage key by removing prefix from the URL path.
func NewEntry(rawURL, prefix string) (Entry, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Entry{}, fmt.Errorf("parse link %q: %w", rawURL, err)
	}
	if prefix == "" {
		prefix = "/"
	}
	if !strings.HasPrefix(u.Path, prefix) {
		return Entry{}, fmt.Errorf("link %q is not under %s", rawURL, prefix)
	}
	key := path.Clean(strings.TrimPrefix(u.Path, prefix))
	if key == "." || key == "" || strings.HasPrefix(key, "../") || key == ".." || path.IsAbs(key) {
		return Entry{}, fmt.Errorf("link %q has no usable key", rawURL)
	}
	return Entry{URL: rawURL, Key: key}, nil
}

// Location rebuilds the download URL with the given scheme, dropping any
// query or fragment. An empty scheme keeps the original.
func (e Entry) Location(scheme string) string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return e.URL
	}
	out := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	if scheme != "" {
		out.Scheme = scheme
	}
	return out.String()
}

// Cache persists the lister's output to a single JSON file and serves it
// from there until Refresh is called.
type Cache struct {
	path   string
	prefix string
	lister LinkLister
	logger *zap.Logger
	links  []string
}

// NewCache builds a Cache backed by the JSON file at path.
func NewCache(path, prefix string, lister LinkLister, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Cache{path: path, prefix: prefix, lister: lister, logger: logger}
}

// Links returns the persisted links, crawling once if nothing is persisted yet.
func (c *Cache) Links(ctx context.Context) ([]string, error) {
	if c.links != nil {
		return c.links, nil
	}
	// #nosec G304 -- the metadata path comes from configuration.
	raw, err := os.ReadFile(c.path)
	switch {
	case err == nil:
		var links []string
		if err := json.Unmarshal(raw, &links); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.path, err)
		}
		if links == nil {
			links = []string{}
		}
		c.links = links
		c.logger.Debug("metadata loaded", zap.String("path", c.path), zap.Int("links", len(links)))
		return c.links, nil
	case errors.Is(err, os.ErrNotExist):
		return c.Refresh(ctx)
	default:
		return nil, fmt.Errorf("read %s: %w", c.path, err)
	}
}

// Refresh crawls the portal and overwrites the persisted list.
func (c *Cache) Refresh(ctx context.Context) ([]string, error) {
	if c.lister == nil {
		return nil, errors.New("link lister is not configured")
	}
	links, err := c.lister.ListLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	if links == nil {
		links = []string{}
	}
	payload, err := json.Marshal(links)
	if err != nil {
		return nil, fmt.Errorf("encode links: %w", err)
	}
	if _, err := local.WriteFileAtomic(c.path, bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("persist metadata: %w", err)
	}
	c.links = links
	c.logger.Info("metadata crawled", zap.String("path", c.path), zap.Int("links", len(links)))
	return c.links, nil
}

// Entries converts the links into entries, preserving crawl order. A link
// outside the key prefix means the index is unusable and is returned as an error.
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	links, err := c.Links(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(links))
	for _, link := range links {
		e, err := NewEntry(link, c.prefix)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
