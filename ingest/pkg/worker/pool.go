package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/lightcurvedb/ingest/internal/metrics"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
)

const DefaultProgressInterval = 5 * time.Second

// Factory builds a worker named name reading from jobs. The returned release
// function frees the worker's connections and is called after Run returns.
type Factory func(ctx context.Context, name string, jobs <-chan lightcurve.MergeJob) (*Worker, func(), error)

type PoolConfig struct {
	Logger           *slog.Logger
	Workers          int
	NewWorker        Factory
	Clock            clockwork.Clock
	ProgressInterval time.Duration
}

func (c *PoolConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.NewWorker == nil {
		return errors.New("worker factory is required")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	return nil
}

// Pool runs long-lived workers over one shared job queue.
type Pool struct {
	log *slog.Logger
	cfg *PoolConfig
}

func NewPool(cfg *PoolConfig) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{log: cfg.Logger, cfg: cfg}, nil
}

// Run enqueues jobs and blocks until every worker has exited. A worker that
// fails does not stop the others; all worker errors are joined. Jobs held by
// a failed worker are not re-enqueued.
func (p *Pool) Run(ctx context.Context, jobs []lightcurve.MergeJob) error {
	queue := make(chan lightcurve.MergeJob, len(jobs))
	for _, job := range jobs {
		queue <- job
	}
	close(queue)
	metrics.QueueDepth.Set(float64(len(queue)))
	p.log.Info("starting workers", "workers", p.cfg.Workers, "jobs", len(jobs))

	pool := pond.NewPool(p.cfg.Workers)
	defer pool.StopAndWait()

	tasks := make([]pond.Task, 0, p.cfg.Workers)
	for i := range p.cfg.Workers {
		name := fmt.Sprintf("worker-%02d", i)
		tasks = append(tasks, pool.SubmitErr(func() error {
			w, release, err := p.cfg.NewWorker(ctx, name, queue)
			if err != nil {
				return fmt.Errorf("%s: failed to start: %w", name, err)
			}
			defer release()
			if err := w.Run(ctx); err != nil {
				p.log.Error("worker exited with error", "worker", name, "error", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		}))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, t := range tasks {
			_ = t.Wait()
		}
	}()
	p.reportProgress(ctx, queue, len(jobs), done)

	var errs []error
	for _, t := range tasks {
		if err := t.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.QueueDepth.Set(float64(len(queue)))
	return errors.Join(errs...)
}

// reportProgress logs the number of jobs left on the queue until done closes.
func (p *Pool) reportProgress(ctx context.Context, queue <-chan lightcurve.MergeJob, total int, done <-chan struct{}) {
	ticker := p.cfg.Clock.NewTicker(p.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			<-done
			return
		case <-ticker.Chan():
			remaining := len(queue)
			metrics.QueueDepth.Set(float64(remaining))
			p.log.Info("ingestion progress", "remaining", remaining, "dispatched", total-remaining, "total", total)
		}
	}
}
