package cache

import (
	"context"
	"fmt"

	"github.com/malbeclabs/lightcurvedb/pkg/lightcurve"
)

// AddFileObservations records discovered photometry files. Re-adding a path
// replaces its context.
func (c *Cache) AddFileObservations(ctx context.Context, obs []lightcurve.FileObservation) (int, error) {
	n, err := c.insertAll(ctx,
		`INSERT INTO file_observations (path, tic_id, orbit_number, camera, ccd) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET tic_id = excluded.tic_id, orbit_number = excluded.orbit_number,
		 camera = excluded.camera, ccd = excluded.ccd`,
		len(obs), func(i int) []any {
			o := obs[i]
			return []any{o.Path, o.TICID, o.OrbitNumber, o.Camera, o.CCD}
		})
	if err != nil {
		return 0, fmt.Errorf("failed to add file observations: %w", err)
	}
	return n, nil
}

// FileObservations returns every recorded file, ordered by star then orbit.
func (c *Cache) FileObservations(ctx context.Context) ([]lightcurve.FileObservation, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT tic_id, orbit_number, camera, ccd, path FROM file_observations
		 ORDER BY tic_id, orbit_number, camera, ccd, path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query file observations: %w", err)
	}
	defer rows.Close()

	var out []lightcurve.FileObservation
	for rows.Next() {
		var o lightcurve.FileObservation
		if err := rows.Scan(&o.TICID, &o.OrbitNumber, &o.Camera, &o.CCD, &o.Path); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
