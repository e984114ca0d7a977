package config

const (
	// TESS JD (TJD) is BJD minus this offset, in days.
	MissionEpochOffsetDays = 2457000.0

	// Speed of light expressed in astronomical units per day.
	LightspeedAUPerDay = 173.1446326742403

	// Stage slug under which ingestion processes register provenance rows.
	IngestionStageSlug = "lightpoint-ingestion"

	// Default location of the per-run SQLite side-cache.
	DefaultCachePath = "/scratch/tmp/lcdb_ingestion/INGESTIONCACHE.db"

	// Default database connection values.
	DefaultPostgresHost     = "localhost"
	DefaultPostgresPort     = 5432
	DefaultPostgresDatabase = "lightcurves"
	DefaultPostgresUser     = "lightcurves"
	DefaultPostgresSSLMode  = "disable"
	DefaultPostgresMaxConns = 16
)
