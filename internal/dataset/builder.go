package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/clock/system"
	"github.com/JakeFAU/suitesparse-dataset/internal/downsample"
	"github.com/JakeFAU/suitesparse-dataset/internal/metrics"
	"github.com/JakeFAU/suitesparse-dataset/internal/mtx"
)

// Artifact names written to the blob store.
const (
	FeaturesObject = "xs.json"
	LabelsObject   = "ys.json"
	MapperObject   = "mapper.json"
	// NoticeKind tags the message published once a dataset is written.
	NoticeKind = "dataset.built"
)

// BlobStore persists dataset artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher announces a finished dataset.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// Config controls feature extraction.
type Config struct {
	// MatrixDir is the directory metrics paths are relative to.
	MatrixDir string
	Size      int
	Flat      bool
}

// Notice describes a written dataset.
type Notice struct {
	Rows      int       `json:"rows"`
	Skipped   int       `json:"skipped"`
	Size      int       `json:"size"`
	Flat      bool      `json:"flat"`
	Features  string    `json:"features_uri"`
	Labels    string    `json:"labels_uri"`
	Mapper    string    `json:"mapper_uri"`
	CreatedAt time.Time `json:"created_at"`
}

// Builder assembles and exports the dataset.
type Builder struct {
	cfg       Config
	blobs     BlobStore
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewBuilder builds a Builder. publisher may be nil.
func NewBuilder(cfg Config, blobs BlobStore, publisher Publisher, logger *zap.Logger) (*Builder, error) {
	if cfg.Size < 1 {
		return nil, fmt.Errorf("%w: %d", downsample.ErrInvalidSize, cfg.Size)
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		cfg:       cfg,
		blobs:     blobs,
		publisher: publisher,
		logger:    logger,
		now:       system.New().Now,
	}, nil
}

// Build downsamples each chosen matrix, labels it against the vocabularies
// of all choices, and writes features, labels and vocabularies. A matrix
// that cannot be read or downsampled is skipped.
func (b *Builder) Build(ctx context.Context, choices []Choice) (Notice, error) {
	vocabs := Vocabularies(choices)
	xs := make([][]float64, 0, len(choices))
	ys := make([][]int, 0, len(choices))
	skipped := 0
	for _, c := range choices {
		if err := ctx.Err(); err != nil {
			return Notice{}, err
		}
		x, y, err := b.row(c, vocabs)
		if err != nil {
			skipped++
			b.logger.Debug("matrix skipped", zap.String("path", c.Path), zap.Error(err))
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}

	notice := Notice{Rows: len(xs), Skipped: skipped, Size: b.cfg.Size, Flat: b.cfg.Flat, CreatedAt: b.now()}
	var err error
	if notice.Features, err = b.put(ctx, FeaturesObject, xs); err != nil {
		return Notice{}, err
	}
	if notice.Labels, err = b.put(ctx, LabelsObject, ys); err != nil {
		return Notice{}, err
	}
	if notice.Mapper, err = b.put(ctx, MapperObject, vocabs); err != nil {
		return Notice{}, err
	}
	metrics.SetDatasetRows(notice.Rows)

	if b.publisher != nil {
		id, err := b.publisher.Publish(ctx, NoticeKind, notice)
		if err != nil {
			return notice, fmt.Errorf("publish notice: %w", err)
		}
		b.logger.Debug("notice published", zap.String("message_id", id))
	}
	b.logger.Info("dataset written",
		zap.Int("rows", notice.Rows),
		zap.Int("skipped", notice.Skipped),
		zap.String("features", notice.Features),
	)
	return notice, nil
}

func (b *Builder) row(c Choice, vocabs [][]string) ([]float64, []int, error) {
	m, err := mtx.ReadFile(filepath.Join(b.cfg.MatrixDir, filepath.FromSlash(c.Path)))
	if err != nil {
		return nil, nil, err
	}
	x, err := downsample.Features(m, b.cfg.Size, b.cfg.Flat)
	if err != nil {
		return nil, nil, err
	}
	y, err := Labels(c.Option, vocabs)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

func (b *Builder) put(ctx context.Context, name string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	uri, err := b.blobs.PutObject(ctx, name, "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return uri, nil
}
