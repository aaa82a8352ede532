package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/app"
)

func newSpyCmd() *cobra.Command {
	var opts app.SpyOptions
	cmd := &cobra.Command{
		Use:   "spy",
		Short: "Visualize the sparsity pattern of every extracted matrix",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			if !cmd.Flags().Changed("shape") {
				opts.Resolution = s.cfg.Spy.Resolution
			}
			summary, err := s.app.Spy(cmd.Context(), opts)
			if err != nil {
				return err
			}
			s.app.Logger().Info("spy finished",
				zap.Int("written", summary.Written),
				zap.Int("existed", summary.Existed),
				zap.Int("failed", summary.Failed),
			)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Resolution, "shape", 1024, "image edge in pixels; 0 renders at native size")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "render again even when the image exists")
	return cmd
}
