package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Star holds the catalog parameters needed to correct and align a star.
type Star struct {
	TICID int64
	RA    float64
	Dec   float64
	TMag  float64
}

func (c *Cache) AddStars(ctx context.Context, stars []Star) (int, error) {
	n, err := c.insertAll(ctx,
		`INSERT INTO tic_parameters (tic_id, ra, dec, tmag) VALUES (?, ?, ?, ?)
		 ON CONFLICT (tic_id) DO UPDATE SET ra = excluded.ra, dec = excluded.dec, tmag = excluded.tmag`,
		len(stars), func(i int) []any {
			s := stars[i]
			return []any{s.TICID, s.RA, s.Dec, s.TMag}
		})
	if err != nil {
		return 0, fmt.Errorf("failed to add stars: %w", err)
	}
	for _, s := range stars {
		c.catalog.Del(s.TICID)
	}
	return n, nil
}

// Star returns the catalog parameters for ticID, reading through an
// in-memory cache.
func (c *Cache) Star(ctx context.Context, ticID int64) (Star, error) {
	if v, ok := c.catalog.Get(ticID); ok {
		return v.(Star), nil
	}
	s := Star{TICID: ticID}
	err := c.db.QueryRowContext(ctx, `SELECT ra, dec, tmag FROM tic_parameters WHERE tic_id = ?`, ticID).Scan(&s.RA, &s.Dec, &s.TMag)
	if errors.Is(err, sql.ErrNoRows) {
		return Star{}, fmt.Errorf("%w: tic %d", ErrUnknownStar, ticID)
	}
	if err != nil {
		return Star{}, fmt.Errorf("failed to query star %d: %w", ticID, err)
	}
	c.catalog.Set(ticID, s, 1)
	return s, nil
}
