package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/malbeclabs/lightcurvedb/ingest/pkg/cache"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/jobs"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type CacheCmd struct{}

func NewCacheCmd() *CacheCmd {
	return &CacheCmd{}
}

func (c *CacheCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Populate and inspect the local ingestion cache",
	}
	cmd.PersistentFlags().Int("parse-workers", 4, "number of input files parsed concurrently")

	qflags := &cobra.Command{
		Use:   "qflags FILE...",
		Short: "Load whitespace-delimited cadence/quality-flag files",
		Long:  "Load quality flags. Camera and ccd are read from cam<N>/ccd<N> in each file name unless --camera and --ccd are given.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			camera, err := cmd.Flags().GetInt("camera")
			if err != nil {
				return fmt.Errorf("failed to get camera flag: %w", err)
			}
			ccd, err := cmd.Flags().GetInt("ccd")
			if err != nil {
				return fmt.Errorf("failed to get ccd flag: %w", err)
			}
			if (camera == 0) != (ccd == 0) {
				return fmt.Errorf("--camera and --ccd must be given together")
			}
			return loadIntoCache(cmd, args, func(path string, r io.Reader) ([]cache.QualityFlag, error) {
				cam, chip := camera, ccd
				if cam == 0 {
					var err error
					if cam, chip, err = cache.CameraCCDFromPath(path); err != nil {
						return nil, err
					}
				}
				return cache.ParseQualityFlags(r, cam, chip)
			}, (*cache.Cache).AddQualityFlags)
		},
	}
	qflags.Flags().Int("camera", 0, "camera of every given file")
	qflags.Flags().Int("ccd", 0, "ccd of every given file")

	ephemeris := &cobra.Command{
		Use:   "ephemeris FILE",
		Short: "Load a spacecraft ephemeris CSV (JDTDB,X,Y,Z in AU)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGlobals(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			eph, err := cache.ParseEphemerisCSV(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			lc, err := cache.Open(cmd.Context(), g.log, g.cachePath)
			if err != nil {
				return err
			}
			defer lc.Close()
			n, err := lc.AddEphemeris(cmd.Context(), eph)
			if err != nil {
				return err
			}
			g.log.Info("loaded spacecraft ephemeris", "rows", n)
			return nil
		},
	}

	catalog := &cobra.Command{
		Use:   "catalog FILE...",
		Short: "Load catalog parameters from CSV (tic_id,ra,dec,tmag)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return loadIntoCache(cmd, args, func(_ string, r io.Reader) ([]cache.Star, error) {
				return cache.ParseStarsCSV(r)
			}, (*cache.Cache).AddStars)
		},
	}

	midtjd := &cobra.Command{
		Use:   "midtjd FILE...",
		Short: "Load mid-exposure times from CSV (camera,cadence,mid_tjd)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return loadIntoCache(cmd, args, func(_ string, r io.Reader) ([]cache.MidTJD, error) {
				return cache.ParseMidTJDCSV(r)
			}, (*cache.Cache).AddMidTJDs)
		},
	}

	files := &cobra.Command{
		Use:   "files PATH...",
		Short: "Record photometry files found under the given directories",
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
			found, err := jobs.Discover(cmd.Context(), g.log, args, opts.recursive, opts.scanWorkers)
			if err != nil {
				return err
			}
			lc, err := cache.Open(cmd.Context(), g.log, g.cachePath)
			if err != nil {
				return err
			}
			defer lc.Close()
			n, err := lc.AddFileObservations(cmd.Context(), found)
			if err != nil {
				return err
			}
			g.log.Info("recorded file observations", "files", n)
			return nil
		},
	}
	addDiscoverFlags(files)

	summary := &cobra.Command{
		Use:   "summary",
		Short: "Show row counts of the cache tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGlobals(cmd)
			if err != nil {
				return err
			}
			lc, err := cache.Open(cmd.Context(), g.log, g.cachePath)
			if err != nil {
				return err
			}
			defer lc.Close()
			counts, err := lc.Summary(cmd.Context())
			if err != nil {
				return err
			}
			renderCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	}

	cmd.AddCommand(qflags, ephemeris, catalog, midtjd, files, summary)
	return cmd
}

// loadIntoCache parses files concurrently and inserts their rows in argument
// order.
func loadIntoCache[T any](cmd *cobra.Command, paths []string, parse func(path string, r io.Reader) ([]T, error), add func(*cache.Cache, context.Context, []T) (int, error)) error {
	g, err := loadGlobals(cmd)
	if err != nil {
		return err
	}
	workers, err := cmd.Flags().GetInt("parse-workers")
	if err != nil {
		return fmt.Errorf("failed to get parse-workers flag: %w", err)
	}
	parsed, err := parseFiles(cmd.Context(), paths, workers, parse)
	if err != nil {
		return err
	}

	lc, err := cache.Open(cmd.Context(), g.log, g.cachePath)
	if err != nil {
		return err
	}
	defer lc.Close()

	total := 0
	for i, rows := range parsed {
		n, err := add(lc, cmd.Context(), rows)
		if err != nil {
			return fmt.Errorf("%s: %w", paths[i], err)
		}
		g.log.Debug("loaded file into cache", "path", paths[i], "rows", n)
		total += n
	}
	g.log.Info("loaded cache rows", "files", len(paths), "rows", total)
	return nil
}

func parseFiles[T any](ctx context.Context, paths []string, workers int, parse func(path string, r io.Reader) ([]T, error)) ([][]T, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([][]T, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := parse(path, f)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			out[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func renderCounts(w io.Writer, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader([]string{"Table", "Rows"})
	for _, name := range names {
		table.Append([]string{name, strconv.Itoa(counts[name])})
	}
	table.Render()
}
