package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
)

var (
	ErrNotFound = errors.New("not found")
)

// EnsureOrbits registers orbit numbers that do not exist yet.
func (q *Queries) EnsureOrbits(ctx context.Context, numbers []int) error {
	if len(numbers) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO orbits (orbit_number) SELECT unnest($1::integer[]) ON CONFLICT (orbit_number) DO NOTHING`,
		numbers)
	if err != nil {
		return fmt.Errorf("failed to ensure orbits: %w", err)
	}
	return nil
}

// OrbitIDs maps orbit numbers to their row ids.
func (q *Queries) OrbitIDs(ctx context.Context) (map[int]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT orbit_number, id FROM orbits`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orbits: %w", err)
	}
	out := make(map[int]int64)
	var (
		number int
		id     int64
	)
	_, err = pgx.ForEachRow(rows, []any{&number, &id}, func() error {
		out[number] = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan orbits: %w", err)
	}
	return out, nil
}

// StageID returns the id of the pipeline stage with the given slug.
func (q *Queries) StageID(ctx context.Context, slug string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `SELECT id FROM qlpstages WHERE slug = $1`, slug).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("stage %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query stage %q: %w", slug, err)
	}
	return id, nil
}

func (q *Queries) resolveName(ctx context.Context, table, name string) (int64, error) {
	var id int64
	// DO UPDATE returns the id even when a concurrent transaction inserted
	// the name first.
	err := q.db.QueryRow(ctx,
		`INSERT INTO `+table+` (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = excluded.name
		 RETURNING id`,
		name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s %q: %w", table, name, err)
	}
	q.log.Debug("resolved name to id", "table", table, "name", name, "id", id)
	return id, nil
}

// ApertureID returns the id for an aperture name, registering it if new.
func (q *Queries) ApertureID(ctx context.Context, name string) (int64, error) {
	return q.resolveName(ctx, "apertures", name)
}

// LightcurveTypeID returns the id for a detrending type name, registering it if new.
func (q *Queries) LightcurveTypeID(ctx context.Context, name string) (int64, error) {
	return q.resolveName(ctx, "lightcurvetypes", name)
}

// Observed returns the keys of every array lightcurve already stored for a star.
func (q *Queries) Observed(ctx context.Context, ticID int64) (map[lightcurve.Key]struct{}, error) {
	rows, err := q.db.Query(ctx,
		`SELECT lc.tic_id, lc.camera, lc.ccd, o.orbit_number, ap.name, t.name
		 FROM array_orbit_lightcurves lc
		 JOIN orbits o ON o.id = lc.orbit_id
		 JOIN apertures ap ON ap.id = lc.aperture_id
		 JOIN lightcurvetypes t ON t.id = lc.lightcurve_type_id
		 WHERE lc.tic_id = $1`, ticID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observed lightcurves: %w", err)
	}
	out := make(map[lightcurve.Key]struct{})
	var k lightcurve.Key
	_, err = pgx.ForEachRow(rows, []any{&k.TICID, &k.Camera, &k.CCD, &k.OrbitNumber, &k.Aperture, &k.Type}, func() error {
		out[k] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan observed lightcurves: %w", err)
	}
	return out, nil
}

// ArrayLightcurve loads the stored arrays for key. ok is false when no row exists.
func (q *Queries) ArrayLightcurve(ctx context.Context, key lightcurve.IDKey) (lightcurve.Arrays, bool, error) {
	var a lightcurve.Arrays
	err := q.db.QueryRow(ctx,
		`SELECT cadences, barycentric_julian_dates, data, errors, x_centroids, y_centroids, quality_flags
		 FROM array_orbit_lightcurves
		 WHERE tic_id = $1 AND camera = $2 AND ccd = $3 AND orbit_id = $4 AND aperture_id = $5 AND lightcurve_type_id = $6`,
		key.TICID, key.Camera, key.CCD, key.OrbitID, key.ApertureID, key.LightcurveTypeID,
	).Scan(&a.Cadences, &a.BJD, &a.Data, &a.Errors, &a.XCentroids, &a.YCentroids, &a.QualityFlags)
	if errors.Is(err, pgx.ErrNoRows) {
		return lightcurve.Arrays{}, false, nil
	}
	if err != nil {
		return lightcurve.Arrays{}, false, fmt.Errorf("failed to load array lightcurve: %w", err)
	}
	return a, true, nil
}

// ObservedStarOrbits returns the (star, orbit) pairs with an observation row
// in any of the given orbits.
func (q *Queries) ObservedStarOrbits(ctx context.Context, orbitNumbers []int) (map[lightcurve.StarOrbit]struct{}, error) {
	out := make(map[lightcurve.StarOrbit]struct{})
	if len(orbitNumbers) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx,
		`SELECT obs.tic_id, o.orbit_number FROM observations obs
		 JOIN orbits o ON o.id = obs.orbit_id
		 WHERE o.orbit_number = ANY($1)`, orbitNumbers)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	var so lightcurve.StarOrbit
	_, err = pgx.ForEachRow(rows, []any{&so.TICID, &so.OrbitNumber}, func() error {
		out[so] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan observations: %w", err)
	}
	return out, nil
}

// StartProcess registers a running process for stageID with the given
// parameters and, when previousID is non-zero, marks that process completed.
func (q *Queries) StartProcess(ctx context.Context, stageID int64, params map[string]any, previousID int64) (lightcurve.Process, error) {
	p := lightcurve.Process{StageID: stageID, State: lightcurve.ProcessStateRunning, RuntimeParameters: params}
	err := q.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO qlpprocesses (stage_id, state, runtime_parameters) VALUES ($1, $2, $3) RETURNING id`,
			stageID, p.State, params).Scan(&p.ID); err != nil {
			return fmt.Errorf("failed to insert process: %w", err)
		}
		if previousID == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx,
			`UPDATE qlpprocesses SET state = $1, completed_on = now() WHERE id = $2`,
			lightcurve.ProcessStateCompleted, previousID); err != nil {
			return fmt.Errorf("failed to complete process %d: %w", previousID, err)
		}
		return nil
	})
	return p, err
}

// CompleteProcess marks a process completed.
func (q *Queries) CompleteProcess(ctx context.Context, id int64) error {
	if _, err := q.db.Exec(ctx,
		`UPDATE qlpprocesses SET state = $1, completed_on = now() WHERE id = $2`,
		lightcurve.ProcessStateCompleted, id); err != nil {
		return fmt.Errorf("failed to complete process %d: %w", id, err)
	}
	return nil
}

// Process loads a process row by id.
func (q *Queries) Process(ctx context.Context, id int64) (lightcurve.Process, error) {
	p := lightcurve.Process{ID: id}
	err := q.db.QueryRow(ctx,
		`SELECT stage_id, state, runtime_parameters FROM qlpprocesses WHERE id = $1`, id,
	).Scan(&p.StageID, &p.State, &p.RuntimeParameters)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, fmt.Errorf("process %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return p, fmt.Errorf("failed to query process %d: %w", id, err)
	}
	return p, nil
}

// RemoveLightcurves deletes the best and array lightcurves of the given
// stars in one orbit, in a single transaction.
func (q *Queries) RemoveLightcurves(ctx context.Context, orbitNumber int, ticIDs []int64) (best int64, arrays int64, err error) {
	err = q.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM best_orbit_lightcurves b USING orbits o
			 WHERE b.orbit_id = o.id AND o.orbit_number = $1 AND b.tic_id = ANY($2)`,
			orbitNumber, ticIDs)
		if err != nil {
			return fmt.Errorf("failed to delete best lightcurves: %w", err)
		}
		best = tag.RowsAffected()
		tag, err = tx.Exec(ctx,
			`DELETE FROM array_orbit_lightcurves lc USING orbits o
			 WHERE lc.orbit_id = o.id AND o.orbit_number = $1 AND lc.tic_id = ANY($2)`,
			orbitNumber, ticIDs)
		if err != nil {
			return fmt.Errorf("failed to delete array lightcurves: %w", err)
		}
		arrays = tag.RowsAffected()
		return nil
	})
	return best, arrays, err
}

// OperationSummary aggregates recorded operations of one unit.
type OperationSummary struct {
	Unit       string
	Operations int64
	Rows       int64
	Seconds    float64
}

// Throughput returns rows per second over the summed operation time.
func (s OperationSummary) Throughput() float64 {
	if s.Seconds <= 0 {
		return 0
	}
	return float64(s.Rows) / s.Seconds
}

// OperationSummaries aggregates operations started at or after since.
func (q *Queries) OperationSummaries(ctx context.Context, since time.Time) ([]OperationSummary, error) {
	rows, err := q.db.Query(ctx,
		`SELECT unit, COUNT(*)::bigint, COALESCE(SUM(job_size), 0)::bigint,
		        COALESCE(SUM(EXTRACT(EPOCH FROM time_end - time_start)), 0)::float8
		 FROM qlpoperations WHERE time_start >= $1
		 GROUP BY unit ORDER BY unit`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OperationSummary, error) {
		var s OperationSummary
		err := row.Scan(&s.Unit, &s.Operations, &s.Rows, &s.Seconds)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan operations: %w", err)
	}
	return out, nil
}
