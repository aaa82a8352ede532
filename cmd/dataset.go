package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDatasetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dataset",
		Short: "Assemble training features and labels from solver metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			notice, err := s.app.BuildDataset(cmd.Context())
			if err != nil {
				return err
			}
			s.app.Logger().Info("dataset built",
				zap.Int("rows", notice.Rows),
				zap.String("features", notice.Features),
				zap.String("labels", notice.Labels),
				zap.String("mapper", notice.Mapper),
			)
			return nil
		},
	}
}
