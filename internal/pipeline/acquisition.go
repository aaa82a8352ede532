package pipeline

import (
	"context"
	"fmt"

	"github.com/JakeFAU/suitesparse-dataset/internal/catalog"
)

// SizeFilter admits archives whose byte size lies strictly between Min and Max.
type SizeFilter struct {
	Min int64
	Max int64
}

// Allows reports whether size passes the filter.
func (f SizeFilter) Allows(size int64) bool {
	return f.Min < size && size < f.Max
}

// ArchiveStore is the subset of the archive cache the acquisition chain uses.
type ArchiveStore interface {
	Fetch(ctx context.Context, e catalog.Entry, overwrite bool) (string, error)
	Size(e catalog.Entry) (int64, error)
	Extract(ctx context.Context, e catalog.Entry, overwrite bool) (int, error)
}

// Acquisition returns the fetch, filter and extract stages.
func Acquisition(archives ArchiveStore, filter SizeFilter, overwrite bool) []Stage {
	return []Stage{
		{
			Name: StageFetch,
			Run: func(ctx context.Context, e catalog.Entry) error {
				_, err := archives.Fetch(ctx, e, overwrite)
				return err
			},
		},
		{
			Name: StageFilter,
			Run: func(_ context.Context, e catalog.Entry) error {
				size, err := archives.Size(e)
				if err != nil {
					return err
				}
				if !filter.Allows(size) {
					return fmt.Errorf("%w: %d bytes outside (%d, %d)", ErrRejected, size, filter.Min, filter.Max)
				}
				return nil
			},
		},
		{
			Name: StageExtract,
			Run: func(ctx context.Context, e catalog.Entry) error {
				_, err := archives.Extract(ctx, e, overwrite)
				return err
			},
		},
	}
}
