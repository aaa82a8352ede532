// Package app_test contains end-to-end tests for the app container.
package app_test

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	guuid "github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/app"
	"github.com/JakeFAU/suitesparse-dataset/internal/config"
	"github.com/JakeFAU/suitesparse-dataset/internal/pipeline"
	"github.com/JakeFAU/suitesparse-dataset/internal/store"
)

const squareMatrix = "%%MatrixMarket matrix coordinate real symmetric\n4 4 3\n1 1 1.0\n3 2 2.0\n4 4 4.0\n"

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newPortal(t *testing.T) *httptest.Server {
	t.Helper()
	small := tarball(t, map[string]string{"small/small.mtx": squareMatrix})
	rect := tarball(t, map[string]string{
		"rect/rect.mtx":   "%%MatrixMarket matrix coordinate real general\n2 3 1\n1 1 1\n",
		"rect/rect_b.mtx": "%%MatrixMarket matrix array real general\n2 1\n1\n2\n",
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, `<table id="matrices">
<tr><td class="column-download"><a href="/MAT/HB/small.mat">MAT</a><a href="/MM/HB/small.tar.gz">MM</a></td></tr>
<tr><td class="column-download"><a href="/MM/HB/rect.tar.gz">MM</a></td></tr>
<tr><td class="column-download"><a href="/MM/HB/gone.tar.gz">MM</a></td></tr>
</table>`)
	})
	mux.HandleFunc("/MM/HB/small.tar.gz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(small) })
	mux.HandleFunc("/MM/HB/rect.tar.gz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(rect) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, portal string) config.Config {
	t.Helper()
	root := t.TempDir()
	return config.Config{
		Cache: config.CacheConfig{
			Root: root, MetaFile: "meta.json", ZipDir: "zip", DataDir: "data", SpyDir: "spy",
			LockTimeoutSeconds: 1,
		},
		Portal:  config.PortalConfig{URL: strings.TrimPrefix(portal, "http://"), KeyPrefix: "/MM/"},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5},
		Filter:  config.FilterConfig{ByteMax: 1 << 20},
		Spy:     config.SpyConfig{Resolution: 2},
		Dataset: config.DatasetConfig{Size: 2, Flat: true, NormThreshold: 1e-7, LabelKeys: []string{"ksp_type"}},
		Export:  config.ExportConfig{LocalDir: filepath.Join(root, "export")},
	}
}

func TestAcquireSpyAndDataset(t *testing.T) {
	t.Parallel()

	srv := newPortal(t)
	cfg := testConfig(t, srv.URL)
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	summary, err := a.Acquire(ctx, app.AcquireOptions{ByteMin: 0, ByteMax: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Entries)
	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, map[string]int{pipeline.StageFetch: 1}, summary.StoppedAt)
	assert.FileExists(t, cfg.MetaPath())
	assert.FileExists(t, filepath.Join(cfg.DataRoot(), "HB", "small", "small.mtx"))
	assert.NoDirExists(t, filepath.Join(cfg.DataRoot(), "HB", "rect"))

	outcomes, err := a.RunOutcomes(ctx, summary.RunID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, "HB/gone.tar.gz", outcomes[2].EntryKey)
	assert.Equal(t, pipeline.StageFetch, outcomes[2].StoppedAt)

	_, err = a.RunOutcomes(ctx, guuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	spy, err := a.Spy(ctx, app.SpyOptions{Resolution: cfg.Spy.Resolution})
	require.NoError(t, err)
	assert.Equal(t, 1, spy.Written)
	assert.FileExists(t, filepath.Join(cfg.SpyRoot(), "HB+small+small.png"))

	metricsFile := filepath.Join(t.TempDir(), "metrics.tsv")
	require.NoError(t, os.WriteFile(metricsFile, []byte("path\toptions\tmetrics\n"+
		"HB/small/small.mtx\t{'ksp_type': 'cg'}\t{'norm': 1e-9, 'time': 1.5}\n"), 0o600))
	a2cfg := cfg
	a2cfg.Dataset.MetricsFile = metricsFile
	a2cfg.Dataset.MatrixDir = cfg.DataRoot()
	a2, err := app.New(ctx, a2cfg, zap.NewNop())
	require.NoError(t, err)
	defer a2.Close()

	notice, err := a2.BuildDataset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, notice.Rows)
	assert.FileExists(t, filepath.Join(cfg.Export.LocalDir, "xs.json"))
	assert.FileExists(t, filepath.Join(cfg.Export.LocalDir, "mapper.json"))
}

func TestAcquireSizeFilterRejectsEverything(t *testing.T) {
	t.Parallel()

	srv := newPortal(t)
	cfg := testConfig(t, srv.URL)
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	summary, err := a.Acquire(context.Background(), app.AcquireOptions{ByteMin: 0, ByteMax: 1})
	require.NoError(t, err)
	assert.Zero(t, summary.Completed)
	assert.Equal(t, 2, summary.StoppedAt[pipeline.StageFilter])
	assert.NoDirExists(t, cfg.DataRoot())
	assert.FileExists(t, filepath.Join(cfg.ZipRoot(), "HB", "small.tar.gz"), "rejected archives stay cached")
}

func TestAcquireCrawlFailureAborts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	a, err := app.New(context.Background(), testConfig(t, srv.URL), nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Acquire(context.Background(), app.AcquireOptions{ByteMax: 10})
	require.Error(t, err)

	_, err = a.RefreshMeta(context.Background())
	require.Error(t, err)
}

func TestBuildDatasetMissingMetrics(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "127.0.0.1:1")
	cfg.Dataset.MetricsFile = filepath.Join(t.TempDir(), "missing.tsv")
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.BuildDataset(context.Background())
	require.ErrorContains(t, err, "open metrics")
}
