// Package archive owns the on-disk cache of downloaded matrix archives and
// the matrix files extracted from them.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/catalog"
	"github.com/JakeFAU/suitesparse-dataset/internal/metrics"
	"github.com/JakeFAU/suitesparse-dataset/internal/mtx"
	"github.com/JakeFAU/suitesparse-dataset/internal/storage/local"
)

// Downloader fetches the bytes behind a URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Config names the two cache roots and the download scheme.
type Config struct {
	// ArchiveRoot holds raw archives keyed by entry key.
	ArchiveRoot string
	// DataRoot holds extracted matrices keyed by entry key minus its compound suffix.
	DataRoot string
	// Scheme overrides the link scheme ("http" or "https"); empty keeps it.
	Scheme string
}

// Store is the path-addressed archive cache. It assumes a single writer;
// Lock guards against a second process sharing the roots.
type Store struct {
	cfg        Config
	downloader Downloader
	logger     *zap.Logger
}

// New builds a Store.
func New(cfg Config, downloader Downloader, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.ArchiveRoot) == "" || strings.TrimSpace(cfg.DataRoot) == "" {
		return nil, errors.New("archive and data roots are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{cfg: cfg, downloader: downloader, logger: logger}, nil
}

// ArchivePath is where the entry's archive is cached.
func (s *Store) ArchivePath(e catalog.Entry) string {
	return filepath.Join(s.cfg.ArchiveRoot, filepath.FromSlash(e.Key))
}

// ExtractedPath is where the entry's matrices land: the key under DataRoot
// with the compound suffix (".tar.gz") removed. No I/O is performed.
func (s *Store) ExtractedPath(e catalog.Entry) string {
	dir, name := filepath.Split(filepath.FromSlash(e.Key))
	return filepath.Join(s.cfg.DataRoot, dir, StripCompoundSuffix(name))
}

// StripCompoundSuffix drops up to two trailing extensions: "a.tar.gz" -> "a".
func StripCompoundSuffix(name string) string {
	for i := 0; i < 2; i++ {
		idx := strings.LastIndex(name, ".")
		if idx <= 0 {
			break
		}
		name = name[:idx]
	}
	return name
}

// Fetch downloads the entry's archive unless it is already cached and
// overwrite is false. The file is written atomically, so a failed or
// interrupted download leaves nothing at the archive path.
func (s *Store) Fetch(ctx context.Context, e catalog.Entry, overwrite bool) (string, error) {
	dst := s.ArchivePath(e)
	if !overwrite {
		exists, err := local.Exists(dst)
		if err != nil {
			return "", err
		}
		if exists {
			return dst, nil
		}
	}
	if s.downloader == nil {
		return "", errors.New("downloader is not configured")
	}
	body, err := s.downloader.Download(ctx, e.Location(s.cfg.Scheme))
	if err != nil {
		return "", fmt.Errorf("download %s: %w", e.Key, err)
	}
	if _, err := local.WriteFileAtomic(dst, bytes.NewReader(body)); err != nil {
		return "", fmt.Errorf("store %s: %w", e.Key, err)
	}
	s.logger.Debug("archive cached", zap.String("key", e.Key), zap.Int("bytes", len(body)))
	return dst, nil
}

// Size returns the cached archive's byte size.
func (s *Store) Size(e catalog.Entry) (int64, error) {
	info, err := os.Stat(s.ArchivePath(e))
	if err != nil {
		return 0, fmt.Errorf("stat archive %s: %w", e.Key, err)
	}
	return info.Size(), nil
}

// Extract unpacks the entry's gzip-compressed tar archive next to
// ExtractedPath, keeping only regular files that are square coordinate
// matrices. It is a no-op when ExtractedPath exists and overwrite is false.
// Files are staged in a temporary directory and renamed into place, so the
// extracted path only appears once extraction has finished. It returns the
// number of files extracted.
func (s *Store) Extract(ctx context.Context, e catalog.Entry, overwrite bool) (int, error) {
	dst := s.ExtractedPath(e)
	if !overwrite {
		exists, err := local.Exists(dst)
		if err != nil {
			return 0, err
		}
		if exists {
			return 0, nil
		}
	}
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return 0, fmt.Errorf("create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, ".extract-*")
	if err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging) //nolint:errcheck // best-effort cleanup

	n, err := s.unpack(ctx, s.ArchivePath(e), staging)
	if err != nil {
		return 0, err
	}
	if err := promote(staging, parent); err != nil {
		return 0, err
	}
	metrics.ObserveExtracted(n)
	s.logger.Debug("archive extracted", zap.String("key", e.Key), zap.Int("files", n))
	return n, nil
}

func (s *Store) unpack(ctx context.Context, archivePath, staging string) (int, error) {
	// #nosec G304 -- archive paths are derived from validated entry keys.
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("open gzip stream %s: %w", archivePath, err)
	}
	defer gz.Close() //nolint:errcheck // read-only stream

	tr := tar.NewReader(gz)
	extracted := 0
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return extracted, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read tar %s: %w", archivePath, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		rel, ok := memberPath(hdr.Name)
		if !ok {
			s.logger.Debug("skipping unsafe member", zap.String("name", hdr.Name))
			continue
		}
		kept, err := stageMember(tr, filepath.Join(staging, rel))
		if err != nil {
			return 0, err
		}
		if kept {
			extracted++
		}
	}
}

// stageMember copies one tar member to target and removes it again unless
// it validates as a square coordinate matrix.
func stageMember(r io.Reader, target string) (bool, error) {
	if _, err := local.WriteFileAtomic(target, r); err != nil {
		return false, fmt.Errorf("stage %s: %w", target, err)
	}
	// #nosec G304 -- target lives in our staging directory.
	f, err := os.Open(target)
	if err != nil {
		return false, fmt.Errorf("reopen %s: %w", target, err)
	}
	valid := mtx.IsSquareCoordinate(f)
	_ = f.Close()
	if valid {
		return true, nil
	}
	if err := os.Remove(target); err != nil {
		return false, fmt.Errorf("discard %s: %w", target, err)
	}
	return false, nil
}

// memberPath cleans a tar member name and refuses absolute or escaping paths.
func memberPath(name string) (string, bool) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}
	return clean, true
}

// promote moves every top-level item of staging into parent, replacing what
// was there. Directories left empty by discarded members are not promoted.
func promote(staging, parent string) error {
	items, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("list staging dir: %w", err)
	}
	for _, item := range items {
		src := filepath.Join(staging, item.Name())
		if item.IsDir() {
			empty, err := emptyTree(src)
			if err != nil {
				return err
			}
			if empty {
				continue
			}
		}
		dst := filepath.Join(parent, item.Name())
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("replace %s: %w", dst, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("promote %s: %w", dst, err)
		}
	}
	return nil
}

func emptyTree(dir string) (bool, error) {
	empty := true
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			empty = false
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("scan %s: %w", dir, err)
	}
	return empty, nil
}

// Lock takes an exclusive advisory lock on the archive root, retrying until
// timeout. The returned func releases it.
func (s *Store) Lock(timeout time.Duration) (func(), error) {
	if err := os.MkdirAll(s.cfg.ArchiveRoot, 0o750); err != nil {
		return func() {}, fmt.Errorf("create %s: %w", s.cfg.ArchiveRoot, err)
	}
	lockPath := filepath.Join(s.cfg.ArchiveRoot, ".lock")
	l := flock.New(lockPath)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return func() {}, fmt.Errorf("cannot acquire cache lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return func() {}, fmt.Errorf("another run holds the cache (lock: %s)", lockPath)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
