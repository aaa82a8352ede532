package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMetaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "Re-crawl the portal index",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			n, err := s.app.RefreshMeta(cmd.Context())
			if err != nil {
				return err
			}
			s.app.Logger().Info("index refreshed", zap.Int("links", n))
			return nil
		},
	}
}
