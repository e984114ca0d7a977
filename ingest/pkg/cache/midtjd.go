package cache

import (
	"context"
	"fmt"
	"sync"
)

type MidTJD struct {
	Camera  int
	Cadence int64
	TJD     float64
}

func (c *Cache) AddMidTJDs(ctx context.Context, rows []MidTJD) (int, error) {
	n, err := c.insertAll(ctx,
		`INSERT INTO mid_tjd (camera, cadence, mid_tjd) VALUES (?, ?, ?)
		 ON CONFLICT (camera, cadence) DO UPDATE SET mid_tjd = excluded.mid_tjd`,
		len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.Camera, r.Cadence, r.TJD}
		})
	if err != nil {
		return 0, fmt.Errorf("failed to add mid tjd rows: %w", err)
	}
	return n, nil
}

// MidTJDResolver maps (camera, cadence) to the mid-exposure time recorded in
// the cache, loading each camera once.
type MidTJDResolver struct {
	cache *Cache

	mu   sync.Mutex
	maps map[int]map[int64]float64
}

func (c *Cache) MidTJDResolver() *MidTJDResolver {
	return &MidTJDResolver{cache: c, maps: make(map[int]map[int64]float64)}
}

func (r *MidTJDResolver) load(ctx context.Context, camera int) (map[int64]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.maps[camera]; ok {
		return m, nil
	}
	rows, err := r.cache.db.QueryContext(ctx, `SELECT cadence, mid_tjd FROM mid_tjd WHERE camera = ?`, camera)
	if err != nil {
		return nil, fmt.Errorf("failed to query mid tjd: %w", err)
	}
	defer rows.Close()
	m := make(map[int64]float64)
	for rows.Next() {
		var (
			cadence int64
			tjd     float64
		)
		if err := rows.Scan(&cadence, &tjd); err != nil {
			return nil, err
		}
		m[cadence] = tjd
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.maps[camera] = m
	return m, nil
}

// Times returns the cached mid-exposure times for cadences. ok is false
// unless every cadence has a cached time.
func (r *MidTJDResolver) Times(ctx context.Context, camera int, cadences []int64) ([]float64, bool, error) {
	m, err := r.load(ctx, camera)
	if err != nil {
		return nil, false, err
	}
	if len(m) == 0 {
		return nil, false, nil
	}
	out := make([]float64, len(cadences))
	for i, cadence := range cadences {
		tjd, ok := m[cadence]
		if !ok {
			return nil, false, nil
		}
		out[i] = tjd
	}
	return out, true, nil
}
