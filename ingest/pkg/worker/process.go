package worker

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/malbeclabs/lightcurvedb/ingest/internal/metrics"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/correction"
	"github.com/malbeclabs/lightcurvedb/ingest/pkg/h5"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
)

// staged holds one job's results until the whole job has been read, so a
// malformed file leaves the buffers untouched.
type staged struct {
	lightcurves  []lightcurve.ArrayOrbitLightcurve
	index        map[lightcurve.IDKey]int
	keys         []lightcurve.Key
	best         []lightcurve.BestOrbitLightcurve
	observations []lightcurve.Observation
}

func (s *staged) put(lc lightcurve.ArrayOrbitLightcurve, key lightcurve.Key) {
	id := lc.IDKey()
	if i, ok := s.index[id]; ok {
		s.lightcurves[i] = lc
		return
	}
	s.index[id] = len(s.lightcurves)
	s.lightcurves = append(s.lightcurves, lc)
	s.keys = append(s.keys, key)
}

func (w *Worker) timed(phase string, start time.Time) {
	metrics.PhaseDuration.WithLabelValues(phase).Observe(w.cfg.Clock.Since(start).Seconds())
}

// processJob reads, corrects, aligns and merges every file of one star, in
// listed order, then moves the results into the buffers.
func (w *Worker) processJob(ctx context.Context, job lightcurve.MergeJob) error {
	observed, err := w.observedKeys(ctx, job.TICID)
	if err != nil {
		return err
	}

	st := &staged{index: make(map[lightcurve.IDKey]int)}
	for _, fo := range job.Observations {
		if err := w.processFile(ctx, job, fo, observed, st); err != nil {
			return fmt.Errorf("%s: %w", fo.Path, err)
		}
	}

	for i, lc := range st.lightcurves {
		w.buf.put(lc)
		observed[st.keys[i]] = struct{}{}
	}
	w.buf.best = append(w.buf.best, st.best...)
	w.buf.observations = append(w.buf.observations, st.observations...)
	w.log.Debug("processed job", "tic", job.TICID, "files", len(job.Observations), "lightcurves", len(st.lightcurves), "buffered", w.buf.rows())
	return nil
}

func (w *Worker) processFile(ctx context.Context, job lightcurve.MergeJob, fo lightcurve.FileObservation, observed map[lightcurve.Key]struct{}, st *staged) error {
	start := w.cfg.Clock.Now()
	phot, err := w.cfg.Opener.Open(fo.Path)
	if err != nil {
		return err
	}
	w.timed("read", start)

	start = w.cfg.Clock.Now()
	flags, err := w.cfg.QualityFlags.Flags(ctx, fo.Camera, fo.CCD, phot.Cadences)
	if err != nil {
		return err
	}
	w.timed("quality_flags", start)

	start = w.cfg.Clock.Now()
	tjd := phot.BJD
	if w.cfg.MidTJD != nil {
		cached, ok, err := w.cfg.MidTJD.Times(ctx, fo.Camera, phot.Cadences)
		if err != nil {
			return err
		}
		if ok {
			tjd = cached
		}
	}
	bjd, err := w.cfg.Corrector.Correct(job.RA, job.Dec, tjd)
	if err != nil {
		return err
	}
	w.timed("correction", start)

	orbitID, err := w.orbitID(ctx, fo.OrbitNumber)
	if err != nil {
		return err
	}

	start = w.cfg.Clock.Now()
	for _, s := range phot.Series {
		key := lightcurve.Key{
			TICID:       job.TICID,
			Camera:      fo.Camera,
			CCD:         fo.CCD,
			OrbitNumber: fo.OrbitNumber,
			Aperture:    s.Aperture,
			Type:        s.Type,
		}
		apertureID, err := w.apertureID(ctx, s.Aperture)
		if err != nil {
			return err
		}
		typeID, err := w.typeID(ctx, s.Type)
		if err != nil {
			return err
		}

		data := s.Data
		if s.Type != h5.BackgroundType {
			data = correction.Align(s.Data, flags, job.TMag)
		}
		lc := lightcurve.ArrayOrbitLightcurve{
			TICID:            job.TICID,
			Camera:           fo.Camera,
			CCD:              fo.CCD,
			OrbitID:          orbitID,
			ApertureID:       apertureID,
			LightcurveTypeID: typeID,
			Arrays: lightcurve.Arrays{
				Cadences:     phot.Cadences,
				BJD:          bjd,
				Data:         data,
				Errors:       s.Errors,
				XCentroids:   s.XCentroids,
				YCentroids:   s.YCentroids,
				QualityFlags: flags,
			},
		}

		merged, keep, err := w.mergeExisting(ctx, lc, key, observed, st)
		if err != nil {
			return err
		}
		if !keep {
			metrics.SeriesSkipped.Inc()
			w.log.Debug("lightcurve already stored", "key", key)
			continue
		}
		lc.Arrays = merged
		st.put(lc, key)
	}
	w.timed("merge", start)

	bestAperture := phot.BestAperture
	if bestAperture <= 0 {
		bestAperture = correction.BestApertureNumber(job.TMag)
	}
	bestApertureID, err := w.apertureID(ctx, correction.ApertureName(bestAperture))
	if err != nil {
		return err
	}
	bestTypeID, err := w.typeID(ctx, phot.BestType)
	if err != nil {
		return err
	}
	st.best = append(st.best, lightcurve.BestOrbitLightcurve{
		TICID:            job.TICID,
		OrbitID:          orbitID,
		ApertureID:       bestApertureID,
		LightcurveTypeID: bestTypeID,
	})
	st.observations = append(st.observations, lightcurve.Observation{
		TICID:   job.TICID,
		Camera:  fo.Camera,
		CCD:     fo.CCD,
		OrbitID: orbitID,
	})
	return nil
}

// mergeExisting merges lc with the newest existing record for its key: one
// staged by this job, one waiting in the buffers, or one already stored.
// keep is false when the stored record already holds exactly lc's cadences.
func (w *Worker) mergeExisting(ctx context.Context, lc lightcurve.ArrayOrbitLightcurve, key lightcurve.Key, observed map[lightcurve.Key]struct{}, st *staged) (lightcurve.Arrays, bool, error) {
	id := lc.IDKey()
	if i, ok := st.index[id]; ok {
		merged, err := lightcurve.Merge(st.lightcurves[i].Arrays, lc.Arrays)
		return merged, true, err
	}
	if existing, ok := w.buf.lookup(id); ok {
		metrics.Merges.WithLabelValues("buffer").Inc()
		merged, err := lightcurve.Merge(existing, lc.Arrays)
		return merged, true, err
	}
	if _, ok := observed[key]; !ok {
		merged, err := lightcurve.Merge(lc.Arrays)
		return merged, true, err
	}

	stored, found, err := w.cfg.Store.ArrayLightcurve(ctx, id)
	if err != nil {
		return lightcurve.Arrays{}, false, err
	}
	if !found {
		merged, err := lightcurve.Merge(lc.Arrays)
		return merged, true, err
	}
	if sameCadences(stored.Cadences, lc.Cadences) {
		return lightcurve.Arrays{}, false, nil
	}
	metrics.Merges.WithLabelValues("store").Inc()
	merged, err := lightcurve.Merge(stored, lc.Arrays)
	return merged, true, err
}

// sameCadences reports whether stored, which is sorted and unique, holds
// exactly the distinct values of incoming.
func sameCadences(stored, incoming []int64) bool {
	in := slices.Clone(incoming)
	slices.Sort(in)
	in = slices.Compact(in)
	return slices.Equal(stored, in)
}

func (w *Worker) observedKeys(ctx context.Context, ticID int64) (map[lightcurve.Key]struct{}, error) {
	if item := w.observed.Get(ticID); item != nil {
		return item.Value(), nil
	}
	keys, err := w.cfg.Store.Observed(ctx, ticID)
	if err != nil {
		return nil, fmt.Errorf("failed to load observed lightcurves: %w", err)
	}
	if keys == nil {
		keys = make(map[lightcurve.Key]struct{})
	}
	w.observed.Set(ticID, keys, ttlcache.NoTTL)
	return keys, nil
}

func (w *Worker) apertureID(ctx context.Context, name string) (int64, error) {
	return resolveID(ctx, w.apertures, name, w.cfg.Store.ApertureID)
}

func (w *Worker) typeID(ctx context.Context, name string) (int64, error) {
	return resolveID(ctx, w.types, name, w.cfg.Store.LightcurveTypeID)
}

func resolveID(ctx context.Context, c *ttlcache.Cache[string, int64], name string, lookup func(context.Context, string) (int64, error)) (int64, error) {
	if item := c.Get(name); item != nil {
		return item.Value(), nil
	}
	id, err := lookup(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %q: %w", name, err)
	}
	c.Set(name, id, ttlcache.NoTTL)
	return id, nil
}
