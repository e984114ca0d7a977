package cache

import (
	"context"
	"fmt"
	"sync"
)

type QualityFlag struct {
	Camera  int
	CCD     int
	Cadence int64
	Flag    int32
}

// AddQualityFlags upserts quality flags, returning the number written.
func (c *Cache) AddQualityFlags(ctx context.Context, flags []QualityFlag) (int, error) {
	n, err := c.insertAll(ctx,
		`INSERT INTO quality_flags (camera, ccd, cadence, quality_flag) VALUES (?, ?, ?, ?)
		 ON CONFLICT (camera, ccd, cadence) DO UPDATE SET quality_flag = excluded.quality_flag`,
		len(flags), func(i int) []any {
			f := flags[i]
			return []any{f.Camera, f.CCD, f.Cadence, f.Flag}
		})
	if err != nil {
		return 0, fmt.Errorf("failed to add quality flags: %w", err)
	}
	return n, nil
}

func (c *Cache) qualityFlagMap(ctx context.Context, camera, ccd int) (map[int64]int32, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT cadence, quality_flag FROM quality_flags WHERE camera = ? AND ccd = ?`, camera, ccd)
	if err != nil {
		return nil, fmt.Errorf("failed to query quality flags: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int32)
	for rows.Next() {
		var (
			cadence int64
			flag    int32
		)
		if err := rows.Scan(&cadence, &flag); err != nil {
			return nil, err
		}
		out[cadence] = flag
	}
	return out, rows.Err()
}

type cameraCCD struct {
	camera int
	ccd    int
}

// QualityFlagResolver answers (camera, ccd, cadence) lookups. Each camera/ccd
// pair is read from the cache once on first use and held in memory after.
type QualityFlagResolver struct {
	cache *Cache

	mu   sync.Mutex
	maps map[cameraCCD]map[int64]int32
}

func (c *Cache) QualityFlagResolver() *QualityFlagResolver {
	return &QualityFlagResolver{
		cache: c,
		maps:  make(map[cameraCCD]map[int64]int32),
	}
}

func (r *QualityFlagResolver) load(ctx context.Context, camera, ccd int) (map[int64]int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cameraCCD{camera, ccd}
	if m, ok := r.maps[key]; ok {
		return m, nil
	}
	m, err := r.cache.qualityFlagMap(ctx, camera, ccd)
	if err != nil {
		return nil, err
	}
	r.cache.log.Debug("loaded quality flags", "camera", camera, "ccd", ccd, "cadences", len(m))
	r.maps[key] = m
	return m, nil
}

// Flags returns the quality flag for each cadence, in order. Any cadence
// without a cached flag fails the whole lookup with ErrMissingQualityFlag.
func (r *QualityFlagResolver) Flags(ctx context.Context, camera, ccd int, cadences []int64) ([]int32, error) {
	m, err := r.load(ctx, camera, ccd)
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(cadences))
	for i, cadence := range cadences {
		flag, ok := m[cadence]
		if !ok {
			return nil, fmt.Errorf("%w: camera %d ccd %d cadence %d", ErrMissingQualityFlag, camera, ccd, cadence)
		}
		out[i] = flag
	}
	return out, nil
}
