package raster

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/metrics"
	"github.com/JakeFAU/suitesparse-dataset/internal/storage/local"
)

// Raster statuses reported to metrics.
const (
	StatusWritten = "written"
	StatusExists  = "exists"
	StatusFailed  = "failed"
)

// BatchConfig controls a directory-wide rasterization pass.
type BatchConfig struct {
	DataRoot   string
	SpyRoot    string
	Resolution int
	Overwrite  bool
	// Workers bounds concurrent renders; values below 1 mean one.
	Workers int
}

// BatchSummary counts raster outcomes.
type BatchSummary struct {
	Written int
	Existed int
	Failed  int
}

// Batch renders every *.mtx file under DataRoot into SpyRoot.
type Batch struct {
	cfg    BatchConfig
	logger *zap.Logger
}

// NewBatch builds a Batch.
func NewBatch(cfg BatchConfig, logger *zap.Logger) *Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batch{cfg: cfg, logger: logger}
}

// Run walks DataRoot in lexical order and renders the matrices it finds on
// a pool of Workers goroutines. Existing images are kept unless Overwrite is
// set; a file that fails to rasterize is logged and skipped.
func (b *Batch) Run(ctx context.Context) (BatchSummary, error) {
	var sum BatchSummary
	if b.cfg.Resolution < 0 {
		return sum, fmt.Errorf("rasterize at %d: %w", b.cfg.Resolution, ErrInvalidResolution)
	}
	paths, err := b.matrices(ctx)
	if err != nil {
		return sum, err
	}

	workers := b.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan string)
	statuses := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				statuses <- b.renderOne(path)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, path := range paths {
			select {
			case jobs <- path:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(statuses)
	}()

	for status := range statuses {
		metrics.ObserveRaster(status)
		switch status {
		case StatusWritten:
			sum.Written++
		case StatusExists:
			sum.Existed++
		default:
			sum.Failed++
		}
	}
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	b.logger.Info("raster batch finished",
		zap.Int("written", sum.Written),
		zap.Int("existed", sum.Existed),
		zap.Int("failed", sum.Failed),
		zap.Int("workers", workers),
	)
	return sum, nil
}

func (b *Batch) matrices(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(b.cfg.DataRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".mtx") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", b.cfg.DataRoot, err)
	}
	return paths, nil
}

// Destination returns the image path for a matrix under DataRoot.
func (b *Batch) Destination(path string) (string, error) {
	rel, err := filepath.Rel(b.cfg.DataRoot, path)
	if err != nil {
		return "", fmt.Errorf("relative path for %s: %w", path, err)
	}
	return filepath.Join(b.cfg.SpyRoot, FlatName(rel)), nil
}

func (b *Batch) renderOne(path string) (status string) {
	logger := b.logger.With(zap.String("matrix", path))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("rasterize panicked", zap.Any("panic", r))
			status = StatusFailed
		}
	}()
	dst, err := b.Destination(path)
	if err != nil {
		logger.Warn("cannot place raster", zap.Error(err))
		return StatusFailed
	}
	if !b.cfg.Overwrite {
		exists, err := local.Exists(dst)
		if err != nil {
			logger.Warn("cannot stat raster", zap.Error(err))
			return StatusFailed
		}
		if exists {
			return StatusExists
		}
	}
	im, err := RasterizeFile(path, b.cfg.Resolution)
	if err != nil {
		logger.Warn("rasterize failed", zap.Error(err))
		return StatusFailed
	}
	var buf bytes.Buffer
	if err := im.EncodePNG(&buf); err != nil {
		logger.Warn("encode failed", zap.Error(err))
		return StatusFailed
	}
	if _, err := local.WriteFileAtomic(dst, &buf); err != nil {
		logger.Warn("write raster failed", zap.Error(err))
		return StatusFailed
	}
	logger.Debug("raster written", zap.String("path", dst))
	return StatusWritten
}
