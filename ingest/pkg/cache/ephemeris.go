package cache

import (
	"context"
	"fmt"

	"github.com/malbeclabs/lightcurvedb/ingest/pkg/correction"
)

func (c *Cache) AddEphemeris(ctx context.Context, eph correction.Ephemeris) (int, error) {
	if err := eph.Validate(); err != nil {
		return 0, err
	}
	n, err := c.insertAll(ctx,
		`INSERT INTO spacecraft_ephemeris (jd, x, y, z) VALUES (?, ?, ?, ?)
		 ON CONFLICT (jd) DO UPDATE SET x = excluded.x, y = excluded.y, z = excluded.z`,
		eph.Len(), func(i int) []any {
			return []any{eph.JD[i], eph.X[i], eph.Y[i], eph.Z[i]}
		})
	if err != nil {
		return 0, fmt.Errorf("failed to add ephemeris: %w", err)
	}
	return n, nil
}

// Ephemeris returns the full cached ephemeris ordered by time.
func (c *Cache) Ephemeris(ctx context.Context) (correction.Ephemeris, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT jd, x, y, z FROM spacecraft_ephemeris ORDER BY jd`)
	if err != nil {
		return correction.Ephemeris{}, fmt.Errorf("failed to query ephemeris: %w", err)
	}
	defer rows.Close()

	var eph correction.Ephemeris
	for rows.Next() {
		var jd, x, y, z float64
		if err := rows.Scan(&jd, &x, &y, &z); err != nil {
			return correction.Ephemeris{}, err
		}
		eph.JD = append(eph.JD, jd)
		eph.X = append(eph.X, x)
		eph.Y = append(eph.Y, y)
		eph.Z = append(eph.Z, z)
	}
	return eph, rows.Err()
}
