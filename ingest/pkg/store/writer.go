package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
)

// Writer is the set of bulk writes performed inside one flush transaction.
type Writer interface {
	CopyArrayLightcurves(ctx context.Context, lcs []lightcurve.ArrayOrbitLightcurve) (int64, error)
	InsertBestLightcurves(ctx context.Context, best []lightcurve.BestOrbitLightcurve) (int64, error)
	UpsertObservations(ctx context.Context, obs []lightcurve.Observation) (int64, error)
	InsertOperations(ctx context.Context, ops []lightcurve.Operation) error
}

var ArrayLightcurveColumns = []string{
	"tic_id",
	"camera",
	"ccd",
	"orbit_id",
	"aperture_id",
	"lightcurve_type_id",
	"cadences",
	"barycentric_julian_dates",
	"data",
	"errors",
	"x_centroids",
	"y_centroids",
	"quality_flags",
}

type txWriter struct {
	tx pgx.Tx
}

// CopyArrayLightcurves replaces any stored rows sharing a key with the given
// lightcurves, then bulk loads them with COPY. Callers pass arrays already
// merged with the stored ones.
func (w *txWriter) CopyArrayLightcurves(ctx context.Context, lcs []lightcurve.ArrayOrbitLightcurve) (int64, error) {
	if len(lcs) == 0 {
		return 0, nil
	}
	tics := make([]int64, len(lcs))
	cams := make([]int16, len(lcs))
	ccds := make([]int16, len(lcs))
	orbits := make([]int64, len(lcs))
	aps := make([]int64, len(lcs))
	types := make([]int64, len(lcs))
	for i, lc := range lcs {
		tics[i], cams[i], ccds[i] = lc.TICID, int16(lc.Camera), int16(lc.CCD)
		orbits[i], aps[i], types[i] = lc.OrbitID, lc.ApertureID, lc.LightcurveTypeID
	}
	if _, err := w.tx.Exec(ctx,
		`DELETE FROM array_orbit_lightcurves lc
		 USING unnest($1::bigint[], $2::smallint[], $3::smallint[], $4::bigint[], $5::bigint[], $6::bigint[])
		   AS k(tic_id, camera, ccd, orbit_id, aperture_id, lightcurve_type_id)
		 WHERE lc.tic_id = k.tic_id AND lc.camera = k.camera AND lc.ccd = k.ccd
		   AND lc.orbit_id = k.orbit_id AND lc.aperture_id = k.aperture_id
		   AND lc.lightcurve_type_id = k.lightcurve_type_id`,
		tics, cams, ccds, orbits, aps, types); err != nil {
		return 0, fmt.Errorf("failed to clear replaced array lightcurves: %w", err)
	}

	n, err := w.tx.CopyFrom(ctx,
		pgx.Identifier{"array_orbit_lightcurves"},
		ArrayLightcurveColumns,
		pgx.CopyFromSlice(len(lcs), func(i int) ([]any, error) {
			lc := lcs[i]
			return []any{
				lc.TICID, int16(lc.Camera), int16(lc.CCD), lc.OrbitID, lc.ApertureID, lc.LightcurveTypeID,
				lc.Cadences, lc.BJD, lc.Data, lc.Errors, lc.XCentroids, lc.YCentroids, lc.QualityFlags,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to copy array lightcurves: %w", err)
	}
	return n, nil
}

// InsertBestLightcurves inserts best-lightcurve assignments, ignoring any
// (tic_id, orbit_id) that already has one.
func (w *txWriter) InsertBestLightcurves(ctx context.Context, best []lightcurve.BestOrbitLightcurve) (int64, error) {
	if len(best) == 0 {
		return 0, nil
	}
	tics := make([]int64, len(best))
	orbits := make([]int64, len(best))
	aps := make([]int64, len(best))
	types := make([]int64, len(best))
	for i, b := range best {
		tics[i], orbits[i], aps[i], types[i] = b.TICID, b.OrbitID, b.ApertureID, b.LightcurveTypeID
	}
	tag, err := w.tx.Exec(ctx,
		`INSERT INTO best_orbit_lightcurves (tic_id, orbit_id, aperture_id, lightcurve_type_id)
		 SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::bigint[], $4::bigint[])
		 ON CONFLICT (tic_id, orbit_id) DO NOTHING`,
		tics, orbits, aps, types)
	if err != nil {
		return 0, fmt.Errorf("failed to insert best lightcurves: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertObservations inserts observation links, updating camera and ccd on
// conflict. Duplicate (tic_id, orbit_id) pairs keep the last.
func (w *txWriter) UpsertObservations(ctx context.Context, obs []lightcurve.Observation) (int64, error) {
	obs = lightcurve.DedupObservations(obs)
	if len(obs) == 0 {
		return 0, nil
	}
	tics := make([]int64, len(obs))
	orbits := make([]int64, len(obs))
	cams := make([]int16, len(obs))
	ccds := make([]int16, len(obs))
	for i, o := range obs {
		tics[i], orbits[i], cams[i], ccds[i] = o.TICID, o.OrbitID, int16(o.Camera), int16(o.CCD)
	}
	tag, err := w.tx.Exec(ctx,
		`INSERT INTO observations (tic_id, orbit_id, camera, ccd)
		 SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::smallint[], $4::smallint[])
		 ON CONFLICT (tic_id, orbit_id) DO UPDATE SET camera = excluded.camera, ccd = excluded.ccd`,
		tics, orbits, cams, ccds)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert observations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (w *txWriter) InsertOperations(ctx context.Context, ops []lightcurve.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, op := range ops {
		batch.Queue(
			`INSERT INTO qlpoperations (process_id, time_start, time_end, job_size, unit) VALUES ($1, $2, $3, $4, $5)`,
			op.ProcessID, op.TimeStart, op.TimeEnd, int64(op.JobSize), op.Unit)
	}
	if err := w.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert operations: %w", err)
	}
	return nil
}
