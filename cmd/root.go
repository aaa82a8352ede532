// Package cmd defines and implements the CLI commands for the mtxset executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/app"
	"github.com/JakeFAU/suitesparse-dataset/internal/config"
	"github.com/JakeFAU/suitesparse-dataset/internal/dataset"
	"github.com/JakeFAU/suitesparse-dataset/internal/logging"
	"github.com/JakeFAU/suitesparse-dataset/internal/pipeline"
	"github.com/JakeFAU/suitesparse-dataset/internal/raster"
	"github.com/JakeFAU/suitesparse-dataset/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	RefreshMeta(ctx context.Context) (int, error)
	Acquire(ctx context.Context, opts app.AcquireOptions) (pipeline.Summary, error)
	Spy(ctx context.Context, opts app.SpyOptions) (raster.BatchSummary, error)
	BuildDataset(ctx context.Context) (dataset.Notice, error)
	RunOutcomes(ctx context.Context, runID uuid.UUID) ([]store.Outcome, error)
}

// session is what PersistentPreRunE hands to subcommands.
type session struct {
	app App
	cfg config.Config
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "mtxset",
		Short: "Builds a sparse-matrix dataset from the SuiteSparse collection.",
		Long: `mtxset crawls the SuiteSparse Matrix Collection index, caches the Matrix
Market archives, keeps the square coordinate matrices they contain, and turns
them into sparsity images and fixed-size training features.`,
		SilenceUsage: true,

		// Config is loaded and services are built before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, &session{app: appInstance, cfg: cfg})
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); MTXSET_* env vars override")

	cmd.AddCommand(newInitCmd(), newMetaCmd(), newSpyCmd(), newDatasetCmd(), newOutcomesCmd())
	return cmd
}

// close shuts the services down; subcommands defer it so it also runs when they fail.
func (s *session) close() {
	s.app.Close()
	_ = s.app.Logger().Sync()
}

func resolveSession(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(appKey).(*session)
	if !ok || s == nil || s.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return s, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mtxset: %v\n", err)
		stop()
		os.Exit(1)
	}
}
