package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/buffer"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/h5"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/store"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
	"github.com/malbeclabs/lightcurvedb/pkg/retry"
)

const (
	DefaultQueueTimeout      = 10 * time.Second
	DefaultInitialThreshold  = 10
	DefaultRefreshEvery      = 3
	DefaultFinalFlushTimeout = time.Minute
	DefaultApertureCacheSize = 8
	DefaultTypeCacheSize     = 8
	DefaultObservedCacheSize = 32

	// ThresholdParameter is the runtime parameter holding the flush threshold.
	ThresholdParameter = "n_lightcurves"
)

// Store is the per-worker view of the primary database. Each worker holds
// its own connection.
type Store interface {
	OrbitIDs(ctx context.Context) (map[int]int64, error)
	StageID(ctx context.Context, slug string) (int64, error)
	ApertureID(ctx context.Context, name string) (int64, error)
	LightcurveTypeID(ctx context.Context, name string) (int64, error)
	Observed(ctx context.Context, ticID int64) (map[lightcurve.Key]struct{}, error)
	ArrayLightcurve(ctx context.Context, key lightcurve.IDKey) (lightcurve.Arrays, bool, error)
	StartProcess(ctx context.Context, stageID int64, params map[string]any, previousID int64) (lightcurve.Process, error)
	CompleteProcess(ctx context.Context, id int64) error
	WithTx(ctx context.Context, fn func(w store.Writer) error) error
}

type QualityFlagResolver interface {
	Flags(ctx context.Context, camera, ccd int, cadences []int64) ([]int32, error)
}

// TimeResolver maps cadences to cached mid-exposure times. ok is false when
// the cache cannot cover every cadence.
type TimeResolver interface {
	Times(ctx context.Context, camera int, cadences []int64) ([]float64, bool, error)
}

type Corrector interface {
	Correct(ra, dec float64, tjd []float64) ([]float64, error)
}

type Config struct {
	Logger       *slog.Logger
	Name         string
	Jobs         <-chan lightcurve.MergeJob
	Store        Store
	QualityFlags QualityFlagResolver
	Corrector    Corrector
	Opener       h5.Opener
	// MidTJD overrides file times with cached mid-exposure times when set.
	MidTJD     TimeResolver
	Controller *buffer.Controller
	Clock      clockwork.Clock
	StageSlug  string

	InitialThreshold int
	RefreshEvery     int
	QueueTimeout     time.Duration

	// Flush retry policy for transient database errors.
	RetryMaxAttempts  uint
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// FinalFlushTimeout bounds the best-effort flush after cancellation.
	FinalFlushTimeout time.Duration

	ApertureCacheSize uint64
	TypeCacheSize     uint64
	ObservedCacheSize uint64
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Jobs == nil {
		return errors.New("jobs channel is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.QualityFlags == nil {
		return errors.New("quality flag resolver is required")
	}
	if c.Corrector == nil {
		return errors.New("corrector is required")
	}
	if c.Opener == nil {
		return errors.New("opener is required")
	}
	if c.Name == "" {
		c.Name = "worker"
	}
	if c.Controller == nil {
		c.Controller = buffer.NewController(buffer.DefaultHistorySize)
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.StageSlug == "" {
		return errors.New("stage slug is required")
	}
	if c.InitialThreshold == 0 {
		c.InitialThreshold = DefaultInitialThreshold
	}
	if c.InitialThreshold < buffer.MinSize || c.InitialThreshold > buffer.MaxSize {
		return errors.New("initial threshold out of range")
	}
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = DefaultRefreshEvery
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = DefaultQueueTimeout
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = retry.DefaultMaxAttempts
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = retry.DefaultInitialDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = retry.DefaultMaxDelay
	}
	if c.FinalFlushTimeout <= 0 {
		c.FinalFlushTimeout = DefaultFinalFlushTimeout
	}
	if c.ApertureCacheSize == 0 {
		c.ApertureCacheSize = DefaultApertureCacheSize
	}
	if c.TypeCacheSize == 0 {
		c.TypeCacheSize = DefaultTypeCacheSize
	}
	if c.ObservedCacheSize == 0 {
		c.ObservedCacheSize = DefaultObservedCacheSize
	}
	return nil
}
