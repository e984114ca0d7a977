package store

import (
	"context"
	"fmt"

	"github.com/malbeclabs/lightcurvedb/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS orbits (
	id           BIGSERIAL PRIMARY KEY,
	orbit_number INTEGER NOT NULL UNIQUE,
	created_on   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS apertures (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_on TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS lightcurvetypes (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_on TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS array_orbit_lightcurves (
	tic_id                   BIGINT NOT NULL,
	camera                   SMALLINT NOT NULL,
	ccd                      SMALLINT NOT NULL,
	orbit_id                 BIGINT NOT NULL REFERENCES orbits (id) ON DELETE CASCADE,
	aperture_id              BIGINT NOT NULL REFERENCES apertures (id) ON DELETE CASCADE,
	lightcurve_type_id       BIGINT NOT NULL REFERENCES lightcurvetypes (id) ON DELETE CASCADE,
	cadences                 BIGINT[] NOT NULL,
	barycentric_julian_dates DOUBLE PRECISION[] NOT NULL,
	data                     DOUBLE PRECISION[] NOT NULL,
	errors                   DOUBLE PRECISION[] NOT NULL,
	x_centroids              DOUBLE PRECISION[] NOT NULL,
	y_centroids              DOUBLE PRECISION[] NOT NULL,
	quality_flags            INTEGER[] NOT NULL,
	created_on               TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tic_id, camera, ccd, orbit_id, aperture_id, lightcurve_type_id)
);
CREATE TABLE IF NOT EXISTS best_orbit_lightcurves (
	id                 BIGSERIAL PRIMARY KEY,
	tic_id             BIGINT NOT NULL,
	orbit_id           BIGINT NOT NULL REFERENCES orbits (id) ON DELETE CASCADE,
	aperture_id        BIGINT NOT NULL REFERENCES apertures (id) ON DELETE CASCADE,
	lightcurve_type_id BIGINT NOT NULL REFERENCES lightcurvetypes (id) ON DELETE CASCADE,
	UNIQUE (tic_id, orbit_id)
);
CREATE TABLE IF NOT EXISTS observations (
	tic_id   BIGINT NOT NULL,
	orbit_id BIGINT NOT NULL REFERENCES orbits (id) ON DELETE CASCADE,
	camera   SMALLINT NOT NULL,
	ccd      SMALLINT NOT NULL,
	PRIMARY KEY (tic_id, orbit_id)
);
CREATE INDEX IF NOT EXISTS observations_camera_ccd_idx ON observations (camera, ccd);
CREATE TABLE IF NOT EXISTS qlpstages (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	slug        TEXT NOT NULL UNIQUE,
	description TEXT
);
CREATE TABLE IF NOT EXISTS qlpprocesses (
	id                 BIGSERIAL PRIMARY KEY,
	stage_id           BIGINT NOT NULL REFERENCES qlpstages (id) ON DELETE CASCADE,
	state              TEXT NOT NULL,
	runtime_parameters JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_on         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_on       TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS qlpoperations (
	id         BIGSERIAL PRIMARY KEY,
	process_id BIGINT NOT NULL REFERENCES qlpprocesses (id) ON DELETE CASCADE,
	time_start TIMESTAMPTZ NOT NULL,
	time_end   TIMESTAMPTZ NOT NULL,
	job_size   BIGINT NOT NULL,
	unit       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS qlpoperations_time_start_idx ON qlpoperations (time_start);
`

// Migrate creates the ingestion tables if they do not exist and registers
// the ingestion stage.
func (q *Queries) Migrate(ctx context.Context) error {
	if _, err := q.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := q.db.Exec(ctx,
		`INSERT INTO qlpstages (name, slug, description) VALUES ($1, $2, $3) ON CONFLICT (slug) DO NOTHING`,
		"Lightpoint Ingestion", config.IngestionStageSlug, "Bulk ingestion of per-star photometry into array lightcurves",
	); err != nil {
		return fmt.Errorf("failed to register ingestion stage: %w", err)
	}
	q.log.Info("schema up to date")
	return nil
}
