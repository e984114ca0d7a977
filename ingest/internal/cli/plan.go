package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/malbeclabs/lightcurvedb/config"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/cache"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/jobs"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/store"
	"github.com/spf13/cobra"
)

type PlanCmd struct{}

func NewPlanCmd() *PlanCmd {
	return &PlanCmd{}
}

func (c *PlanCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan PATH...",
		Short: "Discover photometry files and show what an ingest would do",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGlobals(cmd)
			if err != nil {
				return err
			}
			opts, err := readDiscoverFlags(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, lc, err := openBackends(ctx, g)
			if err != nil {
				return err
			}
			defer st.Close()
			defer lc.Close()

			plan, err := buildPlan(ctx, g.log, st, lc, args, opts)
			if err != nil {
				return err
			}
			plan.Render(cmd.OutOrStdout())
			return nil
		},
	}
	addDiscoverFlags(cmd)
	return cmd
}

type discoverOptions struct {
	recursive   bool
	scanWorkers int
}

func addDiscoverFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
	cmd.Flags().Int("scan-workers", 4, "number of directories scanned concurrently")
}

func readDiscoverFlags(cmd *cobra.Command) (discoverOptions, error) {
	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return discoverOptions{}, fmt.Errorf("failed to get recursive flag: %w", err)
	}
	scanWorkers, err := cmd.Flags().GetInt("scan-workers")
	if err != nil {
		return discoverOptions{}, fmt.Errorf("failed to get scan-workers flag: %w", err)
	}
	return discoverOptions{recursive: recursive, scanWorkers: scanWorkers}, nil
}

func openStore(ctx context.Context, g *globals) (*store.Store, error) {
	dbCfg, err := config.LoadDatabaseConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	g.log.Debug("connecting to database", "database", dbCfg.Redacted())
	return store.Connect(ctx, g.log, dbCfg)
}

func openBackends(ctx context.Context, g *globals) (*store.Store, *cache.Cache, error) {
	st, err := openStore(ctx, g)
	if err != nil {
		return nil, nil, err
	}
	lc, err := cache.Open(ctx, g.log, g.cachePath)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return st, lc, nil
}

// buildPlan discovers files under paths, records them in the cache, makes
// sure their orbits exist and groups the not yet observed ones into jobs.
func buildPlan(ctx context.Context, log *slog.Logger, st *store.Store, lc *cache.Cache, paths []string, opts discoverOptions) (*jobs.Plan, error) {
	files, err := jobs.Discover(ctx, log, paths, opts.recursive, opts.scanWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	log.Info("discovered photometry files", "files", len(files))
	if _, err := lc.AddFileObservations(ctx, files); err != nil {
		return nil, err
	}

	orbits := jobs.Orbits(files)
	if err := st.EnsureOrbits(ctx, orbits); err != nil {
		return nil, err
	}
	observed, err := st.ObservedStarOrbits(ctx, orbits)
	if err != nil {
		return nil, err
	}
	return jobs.BuildPlan(ctx, log, files, lc, observed)
}
