package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jellydator/ttlcache/v3"
	"github.com/malbeclabs/lightcurvedb/ingest/internal/metrics"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/cache"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/correction"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
)

var (
	ErrRetriesExhausted = errors.New("flush retries exhausted")
	ErrUnknownOrbit     = errors.New("orbit not registered")
)

// Worker is a buffered ingestor. It pulls merge jobs from a shared queue,
// turns their files into merged array lightcurves, and bulk writes them once
// the buffered row count reaches an adaptively tuned threshold.
type Worker struct {
	log *slog.Logger
	cfg *Config

	state atomic.Int32

	orbitIDs  map[int]int64
	stageID   int64
	process   lightcurve.Process
	threshold int
	nSamples  int

	apertures *ttlcache.Cache[string, int64]
	types     *ttlcache.Cache[string, int64]
	observed  *ttlcache.Cache[int64, map[lightcurve.Key]struct{}]

	buf *buffers
}

func New(cfg *Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Worker{
		log:       cfg.Logger.With("worker", cfg.Name),
		cfg:       cfg,
		threshold: cfg.InitialThreshold,
		apertures: ttlcache.New(ttlcache.WithCapacity[string, int64](cfg.ApertureCacheSize)),
		types:     ttlcache.New(ttlcache.WithCapacity[string, int64](cfg.TypeCacheSize)),
		observed:  ttlcache.New(ttlcache.WithCapacity[int64, map[lightcurve.Key]struct{}](cfg.ObservedCacheSize)),
		buf:       newBuffers(),
	}, nil
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Threshold is the current flush threshold in buffered lightcurves.
func (w *Worker) Threshold() int {
	return w.threshold
}

// Process is the provenance record for the current runtime parameters.
func (w *Worker) Process() lightcurve.Process {
	return w.process
}

// Run loads the worker's context and processes jobs until the queue is
// exhausted, then flushes anything left in the buffers. On cancellation it
// makes one best-effort flush and returns nil. Exhausted flush retries and
// missing reference data are returned as errors.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(StateDone)

	w.setState(StateLoadingContext)
	if err := w.loadContext(ctx); err != nil {
		return fmt.Errorf("failed to load worker context: %w", err)
	}
	w.log.Info("worker started", "threshold", w.threshold, "process", w.process.ID)

	metrics.WorkersRunning.Inc()
	defer metrics.WorkersRunning.Dec()

	first := true
	for {
		w.setState(StateIdle)
		job, ok, err := w.next(ctx, first)
		if err != nil {
			return w.interrupted(ctx)
		}
		if !ok {
			break
		}
		first = false

		w.setState(StateProcessingJob)
		if err := w.processJob(ctx, job); err != nil {
			if ctx.Err() != nil {
				return w.interrupted(ctx)
			}
			if isFatal(err) {
				metrics.Jobs.WithLabelValues("failed").Inc()
				return fmt.Errorf("job for tic %d: %w", job.TICID, err)
			}
			metrics.Jobs.WithLabelValues("skipped").Inc()
			w.log.Warn("skipping job", "tic", job.TICID, "files", len(job.Observations), "error", err)
			continue
		}
		metrics.Jobs.WithLabelValues("processed").Inc()

		if w.shouldFlush() {
			if err := w.flush(ctx); err != nil {
				if ctx.Err() != nil {
					return w.interrupted(ctx)
				}
				return err
			}
		}
	}

	if !w.buf.empty() {
		w.log.Info("leftover data found in buffers, flushing", "lightcurves", w.buf.rows())
		if err := w.flush(ctx); err != nil {
			if ctx.Err() != nil {
				return w.interrupted(ctx)
			}
			return err
		}
	}
	if err := w.cfg.Store.CompleteProcess(ctx, w.process.ID); err != nil {
		w.log.Warn("failed to complete process", "process", w.process.ID, "error", err)
	}
	w.log.Info("worker finished")
	return nil
}

// next pulls one job. The first pull waits indefinitely; later pulls give up
// after QueueTimeout. ok is false once no more work is available.
func (w *Worker) next(ctx context.Context, first bool) (lightcurve.MergeJob, bool, error) {
	if first {
		select {
		case job, ok := <-w.cfg.Jobs:
			return job, ok, nil
		case <-ctx.Done():
			return lightcurve.MergeJob{}, false, ctx.Err()
		}
	}

	timer := w.cfg.Clock.NewTimer(w.cfg.QueueTimeout)
	defer timer.Stop()
	select {
	case job, ok := <-w.cfg.Jobs:
		return job, ok, nil
	case <-timer.Chan():
		w.log.Info("timed out waiting for jobs", "timeout", w.cfg.QueueTimeout)
		return lightcurve.MergeJob{}, false, nil
	case <-ctx.Done():
		return lightcurve.MergeJob{}, false, ctx.Err()
	}
}

// interrupted flushes whatever is buffered and completes the running
// process using a fresh bounded context. Both steps are best effort.
func (w *Worker) interrupted(ctx context.Context) error {
	w.log.Info("interrupted")
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FinalFlushTimeout)
	defer cancel()

	if !w.buf.empty() {
		if err := w.flush(finalCtx); err != nil {
			w.log.Error("best-effort flush after interrupt failed", "lightcurves", w.buf.rows(), "error", err)
		} else {
			w.log.Info("flushed buffers after interrupt")
		}
	}
	if w.process.ID != 0 {
		if err := w.cfg.Store.CompleteProcess(finalCtx, w.process.ID); err != nil {
			w.log.Warn("failed to complete process after interrupt", "process", w.process.ID, "error", err)
		}
	}
	return nil
}

func (w *Worker) loadContext(ctx context.Context) error {
	orbits, err := w.cfg.Store.OrbitIDs(ctx)
	if err != nil {
		return err
	}
	w.orbitIDs = orbits

	w.stageID, err = w.cfg.Store.StageID(ctx, w.cfg.StageSlug)
	if err != nil {
		return err
	}
	return w.setParameters(ctx, w.threshold)
}

// setParameters registers a new running process carrying threshold and
// completes the previous one.
func (w *Worker) setParameters(ctx context.Context, threshold int) error {
	params := map[string]any{ThresholdParameter: threshold}
	p, err := w.cfg.Store.StartProcess(ctx, w.stageID, params, w.process.ID)
	if err != nil {
		return fmt.Errorf("failed to register process: %w", err)
	}
	if w.process.ID != 0 {
		w.log.Info("updated runtime parameters", "previous", w.process.ID, "process", p.ID, "threshold", threshold)
	}
	w.process = p
	w.threshold = threshold
	w.nSamples = 0
	metrics.BufferThreshold.WithLabelValues(w.cfg.Name).Set(float64(threshold))
	return nil
}

func (w *Worker) shouldFlush() bool {
	return w.buf.rows() >= w.threshold
}

func (w *Worker) orbitID(ctx context.Context, number int) (int64, error) {
	if id, ok := w.orbitIDs[number]; ok {
		return id, nil
	}
	orbits, err := w.cfg.Store.OrbitIDs(ctx)
	if err != nil {
		return 0, err
	}
	w.orbitIDs = orbits
	if id, ok := orbits[number]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: orbit %d", ErrUnknownOrbit, number)
}

func isFatal(err error) bool {
	return errors.Is(err, cache.ErrMissingQualityFlag) ||
		errors.Is(err, correction.ErrOutsideEphemeris) ||
		errors.Is(err, ErrUnknownOrbit) ||
		errors.Is(err, ErrRetriesExhausted)
}
