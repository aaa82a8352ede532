package pipeline

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/archive"
	"github.com/JakeFAU/suitesparse-dataset/internal/catalog"
	iduuid "github.com/JakeFAU/suitesparse-dataset/internal/id/uuid"
	"github.com/JakeFAU/suitesparse-dataset/internal/storage/memory"
	"github.com/JakeFAU/suitesparse-dataset/internal/store"
)

type fakeArchives struct {
	sizes     map[string]int64
	fetchErr  map[string]error
	fetched   []string
	extracted []string
	panicKey  string
}

func (f *fakeArchives) Fetch(_ context.Context, e catalog.Entry, _ bool) (string, error) {
	f.fetched = append(f.fetched, e.Key)
	if e.Key == f.panicKey {
		panic("boom")
	}
	return e.Key, f.fetchErr[e.Key]
}

func (f *fakeArchives) Size(e catalog.Entry) (int64, error) {
	return f.sizes[e.Key], nil
}

func (f *fakeArchives) Extract(_ context.Context, e catalog.Entry, _ bool) (int, error) {
	f.extracted = append(f.extracted, e.Key)
	return 1, nil
}

func entries(keys ...string) []catalog.Entry {
	out := make([]catalog.Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, catalog.Entry{URL: "https://sparse.tamu.edu/MM/" + k, Key: k})
	}
	return out
}

func TestSizeFilterBoundsAreExclusive(t *testing.T) {
	t.Parallel()

	f := SizeFilter{Min: 10, Max: 20}
	assert.False(t, f.Allows(10))
	assert.True(t, f.Allows(11))
	assert.True(t, f.Allows(19))
	assert.False(t, f.Allows(20))
}

func TestRunShortCircuitsPerEntry(t *testing.T) {
	t.Parallel()

	archives := &fakeArchives{
		sizes: map[string]int64{
			"ok.tar.gz":    50,
			"small.tar.gz": 5,
			"big.tar.gz":   500,
		},
		fetchErr: map[string]error{"down.tar.gz": errors.New("status 503")},
		panicKey: "panics.tar.gz",
	}
	outcomes := memory.NewOutcomeStore()
	p, err := New(Acquisition(archives, SizeFilter{Min: 10, Max: 100}, false), outcomes, iduuid.New(), zap.NewNop())
	require.NoError(t, err)

	summary, err := p.Run(context.Background(),
		entries("ok.tar.gz", "down.tar.gz", "small.tar.gz", "panics.tar.gz", "big.tar.gz"))
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Entries)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, map[string]int{StageFetch: 2, StageFilter: 2}, summary.StoppedAt)
	assert.Equal(t, []string{"ok.tar.gz", "down.tar.gz", "small.tar.gz", "panics.tar.gz", "big.tar.gz"}, archives.fetched)
	assert.Equal(t, []string{"ok.tar.gz"}, archives.extracted, "only entries inside the size range are extracted")

	recorded, err := outcomes.ListOutcomes(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, recorded, 5)
	assert.True(t, recorded[0].Completed)
	assert.Empty(t, recorded[0].StoppedAt)
	assert.Equal(t, StageFetch, recorded[1].StoppedAt)
	assert.Contains(t, recorded[1].ErrorText, "503")
	assert.Equal(t, StageFilter, recorded[2].StoppedAt)
	assert.Contains(t, recorded[2].ErrorText, ErrRejected.Error())
	assert.Contains(t, recorded[3].ErrorText, "panicked")
	for _, o := range recorded {
		assert.Equal(t, summary.RunID, o.RunID)
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	archives := &fakeArchives{sizes: map[string]int64{}}
	p, err := New(Acquisition(archives, SizeFilter{Max: 10}, false), nil, iduuid.New(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, entries("a.tar.gz"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, archives.fetched)
}

type failingRecorder struct{}

func (failingRecorder) RecordOutcome(context.Context, store.Outcome) error {
	return errors.New("db down")
}

func (failingRecorder) ListOutcomes(context.Context, uuid.UUID) ([]store.Outcome, error) {
	return nil, store.ErrNotFound
}

func TestRunPropagatesRecorderFailure(t *testing.T) {
	t.Parallel()

	archives := &fakeArchives{sizes: map[string]int64{"a.tar.gz": 5}}
	p, err := New(Acquisition(archives, SizeFilter{Max: 10}, false), &failingRecorder{}, iduuid.New(), nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), entries("a.tar.gz"))
	require.ErrorContains(t, err, "db down")
}

func TestNewValidatesStages(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, iduuid.New(), nil)
	require.Error(t, err)
	_, err = New([]Stage{{Name: "x"}}, nil, iduuid.New(), nil)
	require.Error(t, err)
	_, err = New(Acquisition(&fakeArchives{}, SizeFilter{}, false), nil, nil, nil)
	require.Error(t, err)
}

type countingDownloader struct {
	body  []byte
	calls int
}

func (d *countingDownloader) Download(context.Context, string) ([]byte, error) {
	d.calls++
	return d.body, nil
}

func tarball(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestAcquisitionIsIdempotent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d := &countingDownloader{body: tarball(t, "1138_bus/1138_bus.mtx",
		"%%MatrixMarket matrix coordinate real general\n2 2 1\n1 1 3.0\n")}
	archives, err := archive.New(archive.Config{
		ArchiveRoot: filepath.Join(root, "zip"),
		DataRoot:    filepath.Join(root, "data"),
	}, d, zap.NewNop())
	require.NoError(t, err)

	e, err := catalog.NewEntry("https://sparse.tamu.edu/MM/HB/1138_bus.tar.gz", catalog.DefaultKeyPrefix)
	require.NoError(t, err)

	p, err := New(Acquisition(archives, SizeFilter{Min: 0, Max: 1 << 20}, false), nil, iduuid.New(), nil)
	require.NoError(t, err)

	first, err := p.Run(context.Background(), []catalog.Entry{e})
	require.NoError(t, err)
	require.Equal(t, 1, first.Completed)
	matrix := filepath.Join(archives.ExtractedPath(e), "1138_bus.mtx")
	// #nosec G304 -- test reads from the controlled temp directory.
	before, err := os.ReadFile(matrix)
	require.NoError(t, err)

	second, err := p.Run(context.Background(), []catalog.Entry{e})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Completed)
	assert.Equal(t, 1, d.calls, "second run must not download")
	assert.NotEqual(t, uuid.Nil, second.RunID)
	assert.NotEqual(t, first.RunID, second.RunID)
	// #nosec G304 -- test reads from the controlled temp directory.
	after, err := os.ReadFile(matrix)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
