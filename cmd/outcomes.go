package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newOutcomesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outcomes RUN_ID",
		Short: "List the per-entry outcomes of an init run",
		Long: `Prints which stage stopped each entry of an init run. Runs are only
visible across processes when outcomes.dsn points at Postgres.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()
			runID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse run id %q: %w", args[0], err)
			}
			outcomes, err := s.app.RunOutcomes(cmd.Context(), runID)
			if err != nil {
				return err
			}
			completed := 0
			for _, o := range outcomes {
				if o.Completed {
					completed++
				}
				s.app.Logger().Info("outcome",
					zap.String("entry", o.EntryKey),
					zap.Bool("completed", o.Completed),
					zap.String("stopped_at", o.StoppedAt),
					zap.String("error", o.ErrorText),
				)
			}
			s.app.Logger().Info("run outcomes",
				zap.String("run_id", runID.String()),
				zap.Int("entries", len(outcomes)),
				zap.Int("completed", completed),
			)
			return nil
		},
	}
}
