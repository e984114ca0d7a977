package lightcurve

import (
	"fmt"
	"time"
)

// Arrays holds the parallel per-cadence columns of one lightcurve. All
// columns share index alignment with Cadences.
type Arrays struct {
	Cadences     []int64
	BJD          []float64
	Data         []float64
	Errors       []float64
	XCentroids   []float64
	YCentroids   []float64
	QualityFlags []int32
}

func (a Arrays) Len() int {
	return len(a.Cadences)
}

// Validate reports whether every column has the same length as Cadences.
func (a Arrays) Validate() error {
	n := len(a.Cadences)
	for name, l := range map[string]int{
		"bjd":           len(a.BJD),
		"data":          len(a.Data),
		"errors":        len(a.Errors),
		"x_centroids":   len(a.XCentroids),
		"y_centroids":   len(a.YCentroids),
		"quality_flags": len(a.QualityFlags),
	} {
		if l != n {
			return fmt.Errorf("column %s has length %d, expected %d", name, l, n)
		}
	}
	return nil
}

// ArrayOrbitLightcurve is one row of array_orbit_lightcurves, keyed by
// (tic_id, camera, ccd, orbit_id, aperture_id, lightcurve_type_id).
type ArrayOrbitLightcurve struct {
	TICID            int64
	Camera           int
	CCD              int
	OrbitID          int64
	ApertureID       int64
	LightcurveTypeID int64
	Arrays
}

// IDKey is the primary key of an array lightcurve row.
type IDKey struct {
	TICID            int64
	Camera           int
	CCD              int
	OrbitID          int64
	ApertureID       int64
	LightcurveTypeID int64
}

func (a ArrayOrbitLightcurve) IDKey() IDKey {
	return IDKey{
		TICID:            a.TICID,
		Camera:           a.Camera,
		CCD:              a.CCD,
		OrbitID:          a.OrbitID,
		ApertureID:       a.ApertureID,
		LightcurveTypeID: a.LightcurveTypeID,
	}
}

// BestOrbitLightcurve records the preferred (aperture, type) for a star in an orbit.
type BestOrbitLightcurve struct {
	TICID            int64
	OrbitID          int64
	ApertureID       int64
	LightcurveTypeID int64
}

// Observation links a star to the camera/ccd it fell on in an orbit.
type Observation struct {
	TICID   int64
	Camera  int
	CCD     int
	OrbitID int64
}

// DedupObservations keeps the last observation for each (tic_id, orbit_id),
// preserving the order of first appearance.
func DedupObservations(obs []Observation) []Observation {
	type key struct {
		tic   int64
		orbit int64
	}
	pos := make(map[key]int, len(obs))
	out := make([]Observation, 0, len(obs))
	for _, o := range obs {
		k := key{o.TICID, o.OrbitID}
		if i, ok := pos[k]; ok {
			out[i] = o
			continue
		}
		pos[k] = len(out)
		out = append(out, o)
	}
	return out
}

// StarOrbit identifies a star observed in one orbit.
type StarOrbit struct {
	TICID       int64
	OrbitNumber int
}

// Operation is a single timed bulk write, recorded for throughput sampling.
type Operation struct {
	ProcessID int64
	TimeStart time.Time
	TimeEnd   time.Time
	JobSize   int
	Unit      string
}

// Throughput returns rows per second. Zero-length intervals yield 0.
func (o Operation) Throughput() float64 {
	secs := o.TimeEnd.Sub(o.TimeStart).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(o.JobSize) / secs
}

const (
	ProcessStateRunning   = "running"
	ProcessStateCompleted = "completed"
)

// Process is a provenance row describing one run of a pipeline stage with a
// fixed set of runtime parameters.
type Process struct {
	ID                int64
	StageID           int64
	State             string
	RuntimeParameters map[string]any
}

// FileObservation is one per-star photometry file from a given orbit/camera/ccd.
type FileObservation struct {
	TICID       int64
	OrbitNumber int
	Camera      int
	CCD         int
	Path        string
}

// MergeJob is the unit of work handed to a worker: every file observation for
// one star along with its catalog parameters.
type MergeJob struct {
	TICID        int64
	RA           float64
	Dec          float64
	TMag         float64
	Observations []FileObservation
}

// Key identifies a persisted array lightcurve by names rather than ids.
type Key struct {
	TICID       int64
	Camera      int
	CCD         int
	OrbitNumber int
	Aperture    string
	Type        string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/cam%d/ccd%d/orbit-%d/%s/%s", k.TICID, k.Camera, k.CCD, k.OrbitNumber, k.Aperture, k.Type)
}
