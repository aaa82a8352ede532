package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLister struct {
	links []string
	err   error
	calls int
}

func (f *fakeLister) ListLinks(context.Context) ([]string, error) {
	f.calls++
	return f.links, f.err
}

func TestNewEntry(t *testing.T) {
	t.Parallel()

	e, err := NewEntry("https://sparse.tamu.edu/MM/HB/1138_bus.tar.gz", DefaultKeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, "HB/1138_bus.tar.gz", e.Key)
	assert.Equal(t, "http://sparse.tamu.edu/MM/HB/1138_bus.tar.gz", e.Location("http"))
	assert.Equal(t, "https://sparse.tamu.edu/MM/HB/1138_bus.tar.gz", e.Location(""))

	_, err = NewEntry("https://sparse.tamu.edu/RB/HB/1138_bus.tar.gz", DefaultKeyPrefix)
	assert.Error(t, err)

	_, err = NewEntry("https://sparse.tamu.edu/MM/", DefaultKeyPrefix)
	assert.Error(t, err)

	_, err = NewEntry("https://sparse.tamu.edu/MM/../../etc/passwd", DefaultKeyPrefix)
	assert.Error(t, err)
}

func TestLocationDropsQuery(t *testing.T) {
	t.Parallel()

	e, err := NewEntry("https://host/MM/A/b.tar.gz?download=1#top", DefaultKeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, "https://host/MM/A/b.tar.gz", e.Location(""))
}

func TestCacheCrawlsOnceAndPersists(t *testing.T) {
	t.Parallel()

	metaPath := filepath.Join(t.TempDir(), "cache", "meta.json")
	lister := &fakeLister{links: []string{
		"https://host/MM/B/z.tar.gz",
		"https://host/MM/A/a.tar.gz",
	}}

	c := NewCache(metaPath, DefaultKeyPrefix, lister, zap.NewNop())
	links, err := c.Links(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lister.links, links)
	assert.Equal(t, 1, lister.calls)

	// A fresh cache over the same file never contacts the lister.
	other := &fakeLister{err: errors.New("must not be called")}
	reloaded := NewCache(metaPath, DefaultKeyPrefix, other, zap.NewNop())
	entries, err := reloaded.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "B/z.tar.gz", entries[0].Key, "crawl order is preserved")
	assert.Equal(t, "A/a.tar.gz", entries[1].Key)
	assert.Zero(t, other.calls)
}

func TestCacheRefreshOverwrites(t *testing.T) {
	t.Parallel()

	metaPath := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(metaPath, []byte(`["https://host/MM/old/x.tar.gz"]`), 0o600))

	lister := &fakeLister{links: []string{"https://host/MM/new/y.tar.gz"}}
	c := NewCache(metaPath, "", lister, nil)
	links, err := c.Links(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://host/MM/old/x.tar.gz"}, links)

	links, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://host/MM/new/y.tar.gz"}, links)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	assert.JSONEq(t, `["https://host/MM/new/y.tar.gz"]`, string(raw))
}

func TestCacheListerFailurePropagates(t *testing.T) {
	t.Parallel()

	metaPath := filepath.Join(t.TempDir(), "meta.json")
	c := NewCache(metaPath, DefaultKeyPrefix, &fakeLister{err: errors.New("portal down")}, nil)
	_, err := c.Links(context.Background())
	require.Error(t, err)
	assert.NoFileExists(t, metaPath)
}

func TestCacheCorruptFile(t *testing.T) {
	t.Parallel()

	metaPath := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(metaPath, []byte("{not json"), 0o600))
	c := NewCache(metaPath, DefaultKeyPrefix, &fakeLister{}, nil)
	_, err := c.Links(context.Background())
	assert.Error(t, err)
}

func TestEntriesRejectsForeignLink(t *testing.T) {
	t.Parallel()

	metaPath := filepath.Join(t.TempDir(), "meta.json")
	c := NewCache(metaPath, DefaultKeyPrefix, &fakeLister{links: []string{"https://host/elsewhere/a.tar.gz"}}, nil)
	_, err := c.Entries(context.Background())
	assert.Error(t, err)
}
