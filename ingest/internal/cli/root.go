package cli

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/malbeclabs/lightcurvedb/config"
	"github.com/malbeclabs/lightcurvedb/ingest/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// BuildInfo is stamped into the binary at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

func Run(build BuildInfo) ExitCode {
	rootCmd := NewRootCmd(build)
	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func NewRootCmd(build BuildInfo) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "lcdb-ingest",
		Short:         "Bulk ingestion of lightcurve photometry into lightcurvedb.",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", build.Version, build.Commit, build.Date),
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cmd.Help()
			if err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGlobals(cmd)
			if err != nil {
				return err
			}
			if g.metricsAddr != "" {
				metrics.BuildInfo.WithLabelValues(build.Version, build.Commit, build.Date).Set(1)
				startMetricsServer(g.log, g.metricsAddr)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "set debug logging level")
	flags.StringP("config", "c", "", "database config file (yaml); LCDB_POSTGRES_* variables override it")
	flags.String("cache", config.DefaultCachePath, "path of the local ingestion cache database")
	flags.String("metrics-addr", "", "address to serve prometheus metrics on (disabled when empty)")

	rootCmd.AddCommand(
		NewIngestCmd().Command(),
		NewPlanCmd().Command(),
		NewCacheCmd().Command(),
		NewMigrateCmd().Command(),
		NewRemoveCmd().Command(),
		NewReportCmd().Command(),
	)
	return rootCmd
}

type globals struct {
	log         *slog.Logger
	configPath  string
	cachePath   string
	metricsAddr string
}

func loadGlobals(cmd *cobra.Command) (*globals, error) {
	flags := cmd.Root().PersistentFlags()
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	cachePath, err := flags.GetString("cache")
	if err != nil {
		return nil, fmt.Errorf("failed to get cache flag: %w", err)
	}
	metricsAddr, err := flags.GetString("metrics-addr")
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}
	return &globals{
		log:         newLogger(verbose),
		configPath:  configPath,
		cachePath:   cachePath,
		metricsAddr: metricsAddr,
	}, nil
}

func startMetricsServer(log *slog.Logger, addr string) {
	go func() {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			log.Error("failed to start prometheus metrics server listener", "error", err)
			return
		}
		log.Info("prometheus metrics server listening", "address", listener.Addr().String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.Serve(listener, mux); err != nil {
			log.Error("prometheus metrics server stopped", "error", err)
		}
	}()
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
			}
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s.%03dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond()/1_000_000)
}
