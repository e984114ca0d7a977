package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/malbeclabs/lightcurvedb/ingest/internal/metrics"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/store"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
	"github.com/malbeclabs/lightcurvedb/pkg/retry"
)

const (
	UnitArrayLightcurves = "array_lightcurves"
	UnitLightpoints      = "lightpoints"
	UnitBestLightcurves  = "best_lightcurves"
	UnitObservations     = "observations"
)

// flushStep writes one buffer kind. Steps run in declared order.
type flushStep struct {
	unit  string
	write func(ctx context.Context, tx store.Writer) (int64, error)
}

func (w *Worker) flushSteps() []flushStep {
	return []flushStep{
		{UnitArrayLightcurves, func(ctx context.Context, tx store.Writer) (int64, error) {
			return tx.CopyArrayLightcurves(ctx, w.buf.lightcurves)
		}},
		{UnitBestLightcurves, func(ctx context.Context, tx store.Writer) (int64, error) {
			return tx.InsertBestLightcurves(ctx, w.buf.best)
		}},
		{UnitObservations, func(ctx context.Context, tx store.Writer) (int64, error) {
			return tx.UpsertObservations(ctx, w.buf.observations)
		}},
	}
}

// flush writes every buffer kind and its operation rows in one transaction,
// retrying the whole transaction on transient database errors. On success
// the buffers are cleared and the controller records a sample.
func (w *Worker) flush(ctx context.Context) error {
	w.setState(StateFlushing)
	defer w.setState(StateIdle)

	rows := w.buf.rows()
	lightpoints := w.buf.lightpoints()
	var (
		attempts uint
		start    time.Time
		end      time.Time
	)
	err := retry.Do(ctx, retry.Config{
		Logger:       w.log,
		Operation:    "flush",
		Retryable:    store.IsTransient,
		MaxAttempts:  w.cfg.RetryMaxAttempts,
		InitialDelay: w.cfg.RetryInitialDelay,
		MaxDelay:     w.cfg.RetryMaxDelay,
	}, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			metrics.FlushRetries.Inc()
		}
		return w.cfg.Store.WithTx(ctx, func(tx store.Writer) error {
			start = w.cfg.Clock.Now()
			var ops []lightcurve.Operation
			for _, step := range w.flushSteps() {
				t0 := w.cfg.Clock.Now()
				n, err := step.write(ctx, tx)
				if err != nil {
					return fmt.Errorf("failed to write %s: %w", step.unit, err)
				}
				op := lightcurve.Operation{
					ProcessID: w.process.ID,
					TimeStart: t0,
					TimeEnd:   w.cfg.Clock.Now(),
					JobSize:   int(n),
					Unit:      step.unit,
				}
				ops = append(ops, op)
				if step.unit == UnitArrayLightcurves {
					op.JobSize = lightpoints
					op.Unit = UnitLightpoints
					ops = append(ops, op)
				}
			}
			end = w.cfg.Clock.Now()
			return tx.InsertOperations(ctx, ops)
		})
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			metrics.Flushes.WithLabelValues("exhausted").Inc()
			w.log.Error("flush failed after retries", "attempts", attempts, "lightcurves", rows, "error", err)
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		metrics.Flushes.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to flush: %w", err)
	}

	metrics.Flushes.WithLabelValues("ok").Inc()
	metrics.FlushDuration.Observe(end.Sub(start).Seconds())
	metrics.FlushedRows.WithLabelValues(UnitArrayLightcurves).Add(float64(rows))
	metrics.FlushedRows.WithLabelValues(UnitLightpoints).Add(float64(lightpoints))
	metrics.FlushedRows.WithLabelValues(UnitBestLightcurves).Add(float64(len(w.buf.best)))
	metrics.FlushedRows.WithLabelValues(UnitObservations).Add(float64(len(w.buf.observations)))
	w.log.Info("flushed buffers", "lightcurves", rows, "lightpoints", lightpoints,
		"best", len(w.buf.best), "observations", len(w.buf.observations), "duration", end.Sub(start), "attempts", attempts)

	w.buf.reset()
	w.cfg.Controller.Record(rows, start, end)
	w.postFlush(ctx)
	return nil
}

// postFlush counts the sample and, every RefreshEvery samples, registers a
// new process carrying the controller's next threshold.
func (w *Worker) postFlush(ctx context.Context) {
	w.nSamples++
	if w.nSamples < w.cfg.RefreshEvery {
		return
	}
	next := w.cfg.Controller.NextSize(w.threshold)
	if err := w.setParameters(ctx, next); err != nil {
		w.log.Warn("keeping current runtime parameters", "threshold", w.threshold, "error", err)
		w.nSamples = 0
	}
}
