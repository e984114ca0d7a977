package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/malbeclabs/lightcurvedb/config"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/cache"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/correction"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/h5"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/store"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/worker"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
	"github.com/spf13/cobra"
)

type IngestCmd struct{}

func NewIngestCmd() *IngestCmd {
	return &IngestCmd{}
}

func (c *IngestCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest PATH...",
		Short: "Ingest per-star photometry files into array lightcurves",
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
			nProcesses, err := cmd.Flags().GetInt("n-processes")
			if err != nil {
				return fmt.Errorf("failed to get n-processes flag: %w", err)
			}
			queueTimeout, err := cmd.Flags().GetDuration("queue-timeout")
			if err != nil {
				return fmt.Errorf("failed to get queue-timeout flag: %w", err)
			}
			threshold, err := cmd.Flags().GetInt("initial-threshold")
			if err != nil {
				return fmt.Errorf("failed to get initial-threshold flag: %w", err)
			}
			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return fmt.Errorf("failed to get dry-run flag: %w", err)
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
			if dryRun || len(plan.Jobs) == 0 {
				return nil
			}

			eph, err := lc.Ephemeris(ctx)
			if err != nil {
				return err
			}

			pool, err := worker.NewPool(&worker.PoolConfig{
				Logger:  g.log,
				Workers: nProcesses,
				NewWorker: func(ctx context.Context, name string, queue <-chan lightcurve.MergeJob) (*worker.Worker, func(), error) {
					return newWorker(ctx, g, st, eph, name, queue, func(c *worker.Config) {
						c.QueueTimeout = queueTimeout
						c.InitialThreshold = threshold
					})
				},
			})
			if err != nil {
				return err
			}

			start := time.Now()
			err = pool.Run(ctx, plan.Jobs)
			g.log.Info("ingestion finished", "jobs", len(plan.Jobs), "duration", time.Since(start), "interrupted", ctx.Err() != nil)
			return err
		},
	}
	addDiscoverFlags(cmd)
	cmd.Flags().IntP("n-processes", "n", 4, "number of ingestion workers")
	cmd.Flags().Duration("queue-timeout", worker.DefaultQueueTimeout, "how long a worker waits for another job before exiting")
	cmd.Flags().Int("initial-threshold", worker.DefaultInitialThreshold, "buffered lightcurves before the first flush")
	cmd.Flags().Bool("dry-run", false, "only show the ingestion plan")
	return cmd
}

// newWorker gives a worker its own database connection, its own cache handle
// and its own corrector.
func newWorker(ctx context.Context, g *globals, st *store.Store, eph correction.Ephemeris, name string, queue <-chan lightcurve.MergeJob, overrides func(c *worker.Config)) (*worker.Worker, func(), error) {
	log := g.log.With("worker", name)
	conn, err := st.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	wc, err := cache.Open(ctx, log, g.cachePath)
	if err != nil {
		conn.Release()
		return nil, nil, err
	}
	release := func() {
		conn.Release()
		if err := wc.Close(); err != nil {
			log.Warn("failed to close cache", "error", err)
		}
	}

	corrector, err := correction.NewCorrector(log, eph)
	if err != nil {
		release()
		return nil, nil, err
	}
	cfg := &worker.Config{
		Logger:       g.log,
		Name:         name,
		Jobs:         queue,
		Store:        conn,
		QualityFlags: wc.QualityFlagResolver(),
		MidTJD:       wc.MidTJDResolver(),
		Corrector:    corrector,
		Opener:       h5.HDF5Opener,
		StageSlug:    config.IngestionStageSlug,
	}
	if overrides != nil {
		overrides(cfg)
	}
	w, err := worker.New(cfg)
	if err != nil {
		release()
		return nil, nil, err
	}
	return w, release, nil
}
