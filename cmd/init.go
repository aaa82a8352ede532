package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/app"
)

// newInitCmd fetches, filters and extracts every archive in the index.
func newInitCmd() *cobra.Command {
	var opts app.AcquireOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory",
		Long: `Crawls the portal index if no index is cached, then downloads each archive,
drops archives outside the byte range, and extracts the square coordinate
matrices. Entries that fail at any step are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			if !cmd.Flags().Changed("byte-min") {
				opts.ByteMin = s.cfg.Filter.ByteMin
			}
			if !cmd.Flags().Changed("byte-max") {
				opts.ByteMax = s.cfg.Filter.ByteMax
			}
			summary, err := s.app.Acquire(cmd.Context(), opts)
			if err != nil {
				return err
			}
			s.app.Logger().Info("init finished",
				zap.String("run_id", summary.RunID.String()),
				zap.Int("entries", summary.Entries),
				zap.Int("completed", summary.Completed),
			)
			return nil
		},
	}
	cmd.Flags().Int64Var(&opts.ByteMin, "byte-min", 0, "exclusive lower bound on archive size in bytes")
	cmd.Flags().Int64Var(&opts.ByteMax, "byte-max", 20050815, "exclusive upper bound on archive size in bytes")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "download and extract again even when cached")
	cmd.Flags().BoolVar(&opts.RefreshMeta, "refresh-meta", false, "re-crawl the portal index first")
	return cmd
}
